package migrations

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed *.up.sql
var FS embed.FS

// Source returns dir when set, so operators can ship hotfix migrations
// without a rebuild, and the embedded set otherwise.
func Source(dir string) fs.FS {
	if dir == "" {
		return FS
	}
	return os.DirFS(dir)
}
