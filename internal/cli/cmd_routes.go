package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/koltyakov/raccoon/internal/config"
)

func runRoutes(w io.Writer, args []string) int {
	loadRaccoonEnvFromDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	writeRoutes(w, cfg, "")
	return 0
}
