// Package pipeline runs multi-stage concurrent pipelines over bounded
// channels.
//
// A pipeline is a source followed by stages. Every stage runs on its own
// goroutines from the moment the pipeline is built, reads one input
// channel, applies a transformation, and writes one output channel. The
// caller drains the last channel through an Output.
//
//	b := pipeline.FromSlice(urls)
//	pages := pipeline.Then(b, fetch, pipeline.Ordered(4), pipeline.WithName("fetch"))
//	sized := pipeline.Then(pages, resize, pipeline.Unordered(8), pipeline.WithBuffer(16))
//	results, err := pipeline.Run(ctx, sized)
//
// # Policies
//
//   - Serial: one transformation at a time, input order kept.
//   - Ordered(n): up to n in flight, results in input order. A slow item
//     holds back the ones behind it.
//   - Unordered(n): up to n in flight, results in completion order.
//
// # Backpressure
//
// Channels default to capacity 0. WithBuffer or Backpressure lets a stage
// run ahead of its consumer. When nobody drains the Output, senders block
// and the stall travels back to the source; nothing polls.
//
// # Shutdown and failures
//
// The source closing its channel ends every stage in turn. A failing stage
// stops admitting, finishes the items it already holds, emits the results
// that precede the failure, and closes its output so downstream stages end
// normally. Its upstream is released through the channel's abandon signal.
// Handle.Wait reports every stage outcome; the first failure by stage
// order is the primary cause of a PIPELINE_FAILED error.
//
// Cancellation only stops the source. The head channel closes and the
// items already inside the pipeline drain to the Output; closing the
// Output is what drops them.
package pipeline
