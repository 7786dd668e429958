// Package all links every store backend into the binary.
//
// Import for side effects:
//
//	import _ "datalab/internal/store/all"
package all

import (
	_ "datalab/internal/store/mssql"
	_ "datalab/internal/store/postgres"
	_ "datalab/internal/store/sqlite"
)
