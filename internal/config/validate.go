package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the configuration is complete for the given
// mode. Modes correspond to the CLI verbs that need more than the
// defaults: "run", "serve", "pull", "migrate".
func (c *Config) Validate(mode string) error {
	var missing []string

	checkShared := func() {
		if c.Window.Start == "" {
			missing = append(missing, "window.start is required")
		}
		if _, err := c.Window.TimeWindow(); err != nil {
			missing = append(missing, fmt.Sprintf("window bounds must be YYYY-MM-DD dates: %v", err))
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			missing = append(missing, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
		}
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Aggregate.Parallelism < 1 || c.Aggregate.Parallelism > 32 {
			missing = append(missing, "aggregate.parallelism must be between 1 and 32")
		}
		if c.Retention.MaxWeeks < 1 || c.Retention.MaxWeeks > 104 {
			missing = append(missing, "retention.max_weeks must be between 1 and 104")
		}
	}

	switch mode {
	case "run":
		checkShared()
		if c.Data.Dir == "" {
			missing = append(missing, "data.dir is required")
		}
		if c.Output.CSV == "" && c.Output.XLSX == "" {
			missing = append(missing, "at least one of output.csv or output.xlsx is required")
		}
	case "serve":
		checkShared()
		if c.Data.Dir == "" {
			missing = append(missing, "data.dir is required")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			missing = append(missing, "server.port must be > 0 and <= 65535")
		}
	case "pull":
		if c.Data.Dir == "" {
			missing = append(missing, "data.dir is required")
		}
		if len(c.Fetch.Endpoints) == 0 {
			missing = append(missing, "fetch.endpoints is required")
		}
		if c.Fetch.MaxRetries < 0 {
			missing = append(missing, "fetch.max_retries must be >= 0")
		}
	case "migrate":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid for %s mode:\n  %s", mode, strings.Join(missing, "\n  "))
	}
	return nil
}
