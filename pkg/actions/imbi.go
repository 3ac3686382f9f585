package actions

import (
	"context"
	"fmt"

	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/workflow"
)

func (d *Dispatcher) executeImbi(ctx context.Context, wctx *workflow.Context, action *workflow.Imbi) error {
	if d.deps.Imbi == nil || d.deps.Metadata == nil {
		return workflow.Invalidf("imbi actions are not configured")
	}
	switch action.Command {
	case workflow.ImbiSetProjectFact:
		return d.setProjectFact(ctx, wctx, action)
	case workflow.ImbiSetEnvironments:
		return d.setEnvironments(ctx, wctx, action)
	default:
		return fmt.Errorf("%w: imbi command %q", ErrUnsupportedAction, action.Command)
	}
}

func (d *Dispatcher) setProjectFact(ctx context.Context, wctx *workflow.Context, action *workflow.Imbi) error {
	logger := d.projectLogger(wctx)
	factType, ok := d.deps.Metadata.FactType(action.FactName)
	if !ok {
		return workflow.Invalidf("unknown project fact %q", action.FactName)
	}

	value, err := processArg(wctx, action.Value, false)
	if err != nil {
		return err
	}
	if !action.SkipValidations {
		if value, err = factType.ValidateValue(value, d.deps.Metadata.EnumValues(factType.ID)); err != nil {
			return workflow.Invalidf("invalid value for fact %q: %v", action.FactName, err)
		}
	}

	logger.Progress(wctx.CurrentActionIndex, wctx.TotalActions, action.Name,
		"setting fact %q to %v for project %d (%s)", factType.Name, value, wctx.Project.ID, wctx.Project.Name)
	err = d.deps.Imbi.SetProjectFacts(ctx, wctx.Project.ID, []imbi.ProjectFact{{
		FactTypeID: factType.ID,
		FactName:   factType.Name,
		Value:      value,
	}})
	if err != nil {
		logger.Error("%s failed to set fact %q for project %d: %v", action.Name, factType.Name, wctx.Project.ID, err)
		return err
	}
	return nil
}

func (d *Dispatcher) setEnvironments(ctx context.Context, wctx *workflow.Context, action *workflow.Imbi) error {
	logger := d.projectLogger(wctx)
	names, err := d.deps.Metadata.TranslateEnvironments(action.Values)
	if err != nil {
		return workflow.Invalidf("%s: %v", action.Name, err)
	}

	logger.Progress(wctx.CurrentActionIndex, wctx.TotalActions, action.Name,
		"setting environments to %v for project %d (%s)", names, wctx.Project.ID, wctx.Project.Name)
	if err := d.deps.Imbi.SetProjectEnvironments(ctx, wctx.Project.ID, names); err != nil {
		logger.Error("%s failed to set environments for project %d: %v", action.Name, wctx.Project.ID, err)
		return err
	}
	return nil
}
