package solver

import (
	"context"
	"strings"
)

// Execute runs script in a new session and returns everything it printed.
// onLine, when non-nil, observes each response line as it is produced. On a
// syntax error the output produced so far is returned with the error.
func Execute(ctx context.Context, script string, opts Options, onLine func(string)) (string, error) {
	var out strings.Builder
	s := NewSession(&out, opts)
	if onLine != nil {
		s.OnLine(onLine)
	}
	err := s.Run(ctx, strings.NewReader(script))
	return out.String(), err
}
