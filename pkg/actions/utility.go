package actions

import (
	"cmp"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"imbi-automations/pkg/utils"
	"imbi-automations/pkg/workflow"
)

// DefaultSemverOutput is the variable compare_semver writes when the action
// does not name one.
const DefaultSemverOutput = "semver_result"

func (d *Dispatcher) executeUtility(_ context.Context, wctx *workflow.Context, action *workflow.Utility) error {
	switch action.Command {
	case workflow.UtilityCompareSemver:
		return d.compareSemver(wctx, action)
	default:
		return fmt.Errorf("%w: utility %s is not yet supported", ErrUnsupportedAction, action.Command)
	}
}

// compareSemver compares two versions given as args or as the
// current_version and target_version kwargs. A trailing -N is a build
// number compared after the semantic version.
func (d *Dispatcher) compareSemver(wctx *workflow.Context, action *workflow.Utility) error {
	current, target, err := versionArgs(wctx, action)
	if err != nil {
		return err
	}
	currentVer, currentBuild, err := parseVersionWithBuild(current)
	if err != nil {
		return err
	}
	targetVer, targetBuild, err := parseVersionWithBuild(target)
	if err != nil {
		return err
	}

	comparison := currentVer.Compare(targetVer)
	if comparison == 0 {
		comparison = cmp.Compare(buildOrZero(currentBuild), buildOrZero(targetBuild))
	}

	result := map[string]any{
		"current_version": current,
		"target_version":  target,
		"comparison":      comparison,
		"is_older":        comparison < 0,
		"is_equal":        comparison == 0,
		"is_newer":        comparison > 0,
		"current_major":   currentVer.Major(),
		"current_minor":   currentVer.Minor(),
		"current_patch":   currentVer.Patch(),
		"current_build":   buildValue(currentBuild),
		"target_major":    targetVer.Major(),
		"target_minor":    targetVer.Minor(),
		"target_patch":    targetVer.Patch(),
		"target_build":    buildValue(targetBuild),
	}

	output := utils.GetMapFieldOr(action.Kwargs, "output", DefaultSemverOutput)
	if output == "" {
		output = DefaultSemverOutput
	}
	wctx.Variables[output] = result

	relation := "equal"
	if comparison < 0 {
		relation = "older"
	} else if comparison > 0 {
		relation = "newer"
	}
	d.projectLogger(wctx).Progress(wctx.CurrentActionIndex, wctx.TotalActions, action.Name,
		"compared versions: %s vs %s -> %s", current, target, relation)
	return nil
}

func versionArgs(wctx *workflow.Context, action *workflow.Utility) (current, target string, err error) {
	var rawCurrent, rawTarget any
	if len(action.Args) >= 2 {
		rawCurrent, rawTarget = action.Args[0], action.Args[1]
	} else {
		rawCurrent, rawTarget = action.Kwargs["current_version"], action.Kwargs["target_version"]
	}
	if rawCurrent == nil || rawTarget == nil {
		return "", "", workflow.Invalidf(
			"compare_semver requires current_version and target_version either as positional args or kwargs")
	}

	c, err := processArg(wctx, rawCurrent, false)
	if err != nil {
		return "", "", err
	}
	t, err := processArg(wctx, rawTarget, false)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprint(c), fmt.Sprint(t), nil
}

// parseVersionWithBuild splits "3.9.18-4" into 3.9.18 and build 4. A suffix
// that is not an integer is dropped.
func parseVersionWithBuild(version string) (*semver.Version, *int, error) {
	text := version
	var build *int
	if i := strings.LastIndex(version, "-"); i >= 0 {
		text = version[:i]
		if n, err := strconv.Atoi(version[i+1:]); err == nil {
			build = &n
		}
	}
	v, err := semver.StrictNewVersion(text)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid semver format: %q. Expected format: major.minor.patch or major.minor.patch-build", version)
	}
	return v, build, nil
}

func buildOrZero(build *int) int {
	if build == nil {
		return 0
	}
	return *build
}

func buildValue(build *int) any {
	if build == nil {
		return nil
	}
	return *build
}
