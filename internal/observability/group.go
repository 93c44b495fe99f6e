package observability

import "context"

// groupRecorder lets inner handlers report the pipeline group back to the
// outer metrics middleware, which only sees its own copy of the request.
type groupRecorder struct {
	group string
}

type groupRecorderKey struct{}

func contextWithGroupRecorder(ctx context.Context, rec *groupRecorder) context.Context {
	return context.WithValue(ctx, groupRecorderKey{}, rec)
}

// ReportGroup records the pipeline group serving the request so request
// metrics can be labelled with it.
func ReportGroup(ctx context.Context, group string) {
	if rec, ok := ctx.Value(groupRecorderKey{}).(*groupRecorder); ok {
		rec.group = group
	}
}
