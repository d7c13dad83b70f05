package codec

import (
	"fmt"
	"strings"

	"github.com/willibrandon/calltrace/pkg/tracker"
)

// UnknownTagError is a hard decode error for a tag the codec does not
// recognize. Unrecognized tags are never defaulted.
type UnknownTagError struct {
	Type TagType
	Keys []string
}

func (e *UnknownTagError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("codec: unrecognized tag object with keys [%s]", strings.Join(e.Keys, ", "))
	}
	return fmt.Sprintf("codec: unrecognized tag type %d", e.Type)
}

// KindMismatchError reports a reference decoded where another kind was
// expected, or a plain value passed where an object of kind Want was.
type KindMismatchError struct {
	Want tracker.Kind
	Got  tracker.Kind
	// GoType is set instead of Got when the value is not an object
	GoType string
}

func (e *KindMismatchError) Error() string {
	if e.GoType != "" {
		return fmt.Sprintf("codec: expected %s reference, got value of type %s", e.Want, e.GoType)
	}
	return fmt.Sprintf("codec: expected %s reference, got %s", e.Want, e.Got)
}
