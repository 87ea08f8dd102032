// Package all registers every supported judge adapter.
package all

import (
	_ "ojkit/internal/judge/adapter/atcoder"
	_ "ojkit/internal/judge/adapter/codeforces"
	_ "ojkit/internal/judge/adapter/yukicoder"
)
