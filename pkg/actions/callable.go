package actions

import (
	"context"
	"fmt"

	"imbi-automations/pkg/templates"
	"imbi-automations/pkg/utils"
	"imbi-automations/pkg/workflow"
)

func (d *Dispatcher) executeCallable(ctx context.Context, wctx *workflow.Context, action *workflow.Callable) error {
	d.mu.RLock()
	fn, ok := d.callables[action.Callable]
	d.mu.RUnlock()
	if !ok {
		return workflow.Invalidf("callable %q is not registered (action %s)", action.Callable, action.Name)
	}

	args := make([]any, 0, len(action.Args))
	for _, arg := range action.Args {
		value, err := processArg(wctx, arg, true)
		if err != nil {
			return err
		}
		args = append(args, value)
	}
	kwargs := make(map[string]any, len(action.Kwargs))
	for key, arg := range action.Kwargs {
		value, err := processArg(wctx, arg, true)
		if err != nil {
			return err
		}
		kwargs[key] = value
	}

	d.projectLogger(wctx).Debug("Executing %s(%v, %v)", action.Callable, args, kwargs)
	if err := fn(ctx, wctx, args, kwargs); err != nil {
		return fmt.Errorf("callable %s failed: %w", action.Callable, err)
	}
	return nil
}

// processArg renders string arguments that contain template syntax and,
// when resolvePaths is set, maps scheme-qualified references to paths.
func processArg(wctx *workflow.Context, arg any, resolvePaths bool) (any, error) {
	s, ok := utils.SafeAssert[string](arg)
	if !ok {
		return arg, nil
	}
	if templates.HasTemplateSyntax(s) {
		rendered, err := templates.RenderString("argument", s, templates.ContextData(wctx))
		if err != nil {
			return nil, err
		}
		s = rendered
	}
	if resolvePaths && workflow.HasPathScheme(s) {
		return wctx.ResolvePath(s)
	}
	return s, nil
}
