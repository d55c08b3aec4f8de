// Package visibility reads and sets one entity's boolean visibility through
// its togglable control. The host's reaction to any interaction is outside
// our control — a click may be swallowed wholesale — so every write is an
// attempt followed by verification, escalating through a fixed fallback
// ladder. Nothing here raises on non-convergence; the outcome records how far
// the ladder went and whether the control ended up where it was asked to.
package visibility

import (
	"context"
	"log/slog"
	"time"

	"github.com/germanamz/viewgroups/pkg/host"
)

// Step identifies which rung of the fallback ladder settled a write.
type Step int

const (
	StepNone    Step = iota // control was already at the target
	StepClick               // primary activation
	StepPointer             // synthetic pointer down/up
	StepKey                 // synthetic keyboard activation
	StepDirect              // direct property/attribute mutation
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepClick:
		return "click"
	case StepPointer:
		return "pointer"
	case StepKey:
		return "key"
	case StepDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Outcome reports the result of a Set.
type Outcome struct {
	Converged bool // control verified at the target value
	Step      Step // the rung that succeeded (last rung tried when not converged)
}

// Options tunes the controller. Zero fields fall back to Defaults.
type Options struct {
	// SettleDelay is the pause between an interaction and its
	// verification, giving the host's own reactive logic time to apply.
	SettleDelay time.Duration
}

// Defaults returns the controller options used when a field is unset.
func Defaults() Options {
	return Options{SettleDelay: 150 * time.Millisecond}
}

// Controller reads and writes control state on one host document.
type Controller struct {
	doc    host.Document
	settle time.Duration
	log    *slog.Logger
}

// New creates a Controller. logger may be nil.
func New(doc host.Document, opts Options, logger *slog.Logger) *Controller {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = Defaults().SettleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{doc: doc, settle: opts.SettleDelay, log: logger}
}

// Get reads the control's current state: checked property first, then the
// aria-checked attribute, then aria-pressed. The first representation present
// wins; a control exposing none of them reads as false.
func (c *Controller) Get(ctx context.Context, control host.NodeID) (bool, error) {
	if v, ok, err := c.doc.BoolProp(ctx, control, "checked"); err != nil {
		return false, err
	} else if ok {
		return v, nil
	}
	for _, attr := range []string{"aria-checked", "aria-pressed"} {
		if v, ok, err := c.doc.Attr(ctx, control, attr); err != nil {
			return false, err
		} else if ok {
			return v == "true", nil
		}
	}
	return false, nil
}

// Set drives the control toward target. It tries the primary activation
// first, then escalates rung by rung, verifying after each attempt. The only
// errors returned are a gone node or a dead context; a host that simply
// refuses to converge yields Outcome{Converged: false}.
func (c *Controller) Set(ctx context.Context, control host.NodeID, target bool) (Outcome, error) {
	current, err := c.Get(ctx, control)
	if err != nil {
		return Outcome{}, err
	}
	if current == target {
		return Outcome{Converged: true, Step: StepNone}, nil
	}

	rungs := []struct {
		step Step
		do   func(context.Context, host.NodeID) error
	}{
		{StepClick, c.doc.Click},
		{StepPointer, c.doc.PointerPress},
		{StepKey, c.doc.KeyActivate},
		{StepDirect, func(ctx context.Context, id host.NodeID) error {
			return c.mutateDirect(ctx, id, target)
		}},
	}

	last := StepNone
	for _, r := range rungs {
		last = r.step
		if err := r.do(ctx, control); err != nil {
			return Outcome{}, err
		}
		if err := host.Sleep(ctx, c.settle); err != nil {
			return Outcome{}, err
		}
		got, err := c.Get(ctx, control)
		if err != nil {
			return Outcome{}, err
		}
		if got == target {
			if r.step != StepClick {
				c.log.Debug("visibility set needed fallback", "control", int64(control), "step", r.step.String())
			}
			return Outcome{Converged: true, Step: r.step}, nil
		}
	}

	c.log.Warn("visibility set did not converge", "control", int64(control), "target", target)
	return Outcome{Converged: false, Step: last}, nil
}

// mutateDirect writes every checked representation the control actually
// exposes, bypassing the host's event handling.
func (c *Controller) mutateDirect(ctx context.Context, control host.NodeID, target bool) error {
	if _, ok, err := c.doc.BoolProp(ctx, control, "checked"); err != nil {
		return err
	} else if ok {
		if err := c.doc.SetBoolProp(ctx, control, "checked", target); err != nil {
			return err
		}
	}
	val := "false"
	if target {
		val = "true"
	}
	for _, attr := range []string{"aria-checked", "aria-pressed"} {
		if _, ok, err := c.doc.Attr(ctx, control, attr); err != nil {
			return err
		} else if ok {
			if err := c.doc.SetAttr(ctx, control, attr, val); err != nil {
				return err
			}
		}
	}
	return nil
}
