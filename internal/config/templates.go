package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# NSE Alerts Configuration

# Directory for the ledger, message database and generated files.
# Defaults to ~/.config/nse-alerts/data
# data_dir = ""

[feed]
base_url = "https://www.nseindia.com"
# Announcement index: equities, sme, debt, mf, invitsreits
index = "equities"
# Total time allowed across all fetch strategies
fetch_budget = "30s"
request_timeout = "15s"

[poll]
# Pause between cycles
interval = "10s"
# Pause after a failed fetch
cooldown = "60s"
# Announcements enriched and dispatched in parallel
workers = 4
# Timeout for each external call
call_timeout = "30s"
# Time an in-flight cycle gets to finish on shutdown
drain_timeout = "60s"

[ledger]
# path = ""
# watchlist_path = ""

[routing]
# Published sheet CSV export URL or a local CSV file.
# Columns: destination_id, keywords, mode (forward or result_concall)
source = ""
timeout = "15s"

[enrich]
# Public URL under which render_dir is served. Empty links to the local path.
public_base_url = ""
# Financial results analyzer: openai, gemini, none
analyzer = "none"
model = ""
pdftotext = "pdftotext"
call_timeout = "90s"

[notifications]
# Receives every new announcement; never stored
diagnostic_destination = "@trade_mvd"
send_timeout = "15s"

[notifications.telegram]
enabled = true
api_base = "https://api.telegram.org"
disable_web_page_preview = true
max_retries = 3

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
from = ""

[notifications.webhook]
enabled = false
timeout = "10s"

[notifications.rate_limit]
per_second = 20.0
burst = 5

[notifications.breaker]
failure_threshold = 5
success_threshold = 1
open_timeout = "30s"

[dashboard]
# Serve /ws and /health on this address, e.g. ":8081". Empty disables it.
listen_addr = ""
history_limit = 100

[retention]
pdf_max_age = "720h"
media_max_age = "168h"

[logging]
level = "info"
console = true
file = true
max_size = 50
max_backups = 10
max_age = 30
`

const credentialsTemplate = `# NSE Alerts Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[telegram]
bot_token = ""

[openai]
api_key = ""

[gemini]
api_key = ""

[smtp]
password = ""
`

func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}

	return fmt.Errorf("%s file not found, created template at %s", name, path)
}
