package toolstream

import "context"

// GenerateResult is the outcome of a non-streaming session.
type GenerateResult struct {
	*Session
	// Events holds every event of the session in emission order.
	Events []Event
}

// Generate runs a session without an incremental consumer. Tool calls are dispatched only
// after the provider has finished each round, then executed concurrently; a round ends when
// the provider is done and no execution is outstanding. The error is non-nil only for fatal failures.
func (e *Engine) Generate(ctx context.Context, prompt []Message) (*GenerateResult, error) {
	res := &GenerateResult{}
	session, err := e.runSession(ctx, prompt, true, func(ev Event) {
		res.Events = append(res.Events, ev)
	})
	res.Session = session
	return res, err
}
