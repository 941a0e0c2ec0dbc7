// Package toolstream is a tool-orchestrating streaming engine for LLM agents.
//
// # Overview
//
// A model round produces an ordered stream of parts: text, reasoning, tool input and tool calls.
// The Engine consumes that stream, assembles the content of the step, resolves every tool call
// against the Registry (schema validation, optional repair), applies the approval policy of the
// tool, executes approved calls concurrently and emits a single, ordered event stream. When the
// model asked for tools and every call was answered, the results are fed back and another round
// starts, until a stop condition holds.
//
// Pipeline: Model.Stream → StreamPart → assembler (resolve → approve → execute) → Event →
// Broadcaster → subscribers; StepResult → stop conditions → next round.
//
// # Key concepts
//
//   - Single Source of Truth: one set of struct tags (e.g. jsonschema) drives both
//     the schema sent to the LLM and the validation of incoming JSON.
//   - Never-failing resolution: a call that cannot be resolved becomes an invalid dynamic call
//     and a tool-error event; the session goes on.
//   - Streaming tools: every value but the last is a preliminary result; the last is final.
//   - Framing: exactly one terminal event (finish, or error for fatal failures) after every tool
//     execution has completed or been cancelled.
//   - Self-Correction: ClientError carries human-readable messages back to the LLM.
//
// # Example
//
//	type Args struct { City string `json:"city" jsonschema:"required"` }
//	type Out  struct { Temp float64 `json:"temp"` }
//	weather, err := toolstream.NewTool("weather", "Get weather", func(_ context.Context, a Args) (Out, error) {
//	    return Out{Temp: 22.5}, nil
//	})
//	if err != nil { ... }
//	reg := toolstream.NewRegistry()
//	reg.Register(weather)
//	eng := toolstream.NewEngine(model, reg, toolstream.WithStopWhen(toolstream.StepCountIs(5)))
//	res := eng.Stream(ctx, []toolstream.Message{toolstream.UserMessage("Weather in Moscow?")})
//	text := res.TextStream()
//	res.Start()
//	for delta := range text.C() {
//	    fmt.Print(delta)
//	}
//	session, err := res.Wait()
package toolstream
