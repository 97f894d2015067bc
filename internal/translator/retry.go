package translator

import (
	"errors"
	"strings"

	"github.com/valpere/storetran/internal/apierr"
)

// RetryOnce runs attempt, and if recoverable reports true for its outcome,
// runs it exactly once more with the input returned by adjust. The second
// outcome is returned unconditionally.
func RetryOnce[In, Out any](
	in In,
	attempt func(In) (Out, error),
	recoverable func(Out, error) bool,
	adjust func(In, Out, error) In,
) (Out, error) {
	out, err := attempt(in)
	if !recoverable(out, err) {
		return out, err
	}
	return attempt(adjust(in, out, err))
}

// isSeedRejection reports whether a provider refused the request because of
// the seed parameter.
func isSeedRejection(err error) bool {
	var httpErr *apierr.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return strings.Contains(strings.ToLower(httpErr.Message), "seed")
}
