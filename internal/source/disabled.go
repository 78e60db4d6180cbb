package source

import "context"

// DisabledSource never starts. It stands in when no input device is
// configured and makes the engine fail the same way a missing permission
// does.
type DisabledSource struct {
	Reason string
}

func (DisabledSource) Name() string { return "disabled" }

func (d DisabledSource) Start(context.Context, Sink) error {
	return &Error{Code: CodePermissionDenied, Source: "disabled", Detail: d.Reason, unavailable: true}
}

func (DisabledSource) Stop() error { return nil }
