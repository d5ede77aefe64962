package sandbox

import (
	"fmt"

	"github.com/sameehj/fence/pkg/lang"
)

// FormatUndefined renders a call to a missing remote function, for example
// "Math.sqrt/1, called with: [9]". The namespace may be given in its internal
// form.
func FormatUndefined(namespace, name string, args []any) string {
	if args == nil {
		args = []any{}
	}
	return fmt.Sprintf("%s.%s/%d, called with: %s", lang.DisplayNamespace(namespace), name, len(args), lang.FormatValue(args))
}
