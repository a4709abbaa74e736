package banner

import (
	"fmt"
	"net"

	"chatsync/pkg/config"
)

// exampleBase turns a listen address into a URL reachable from the
// operator's shell: wildcard and empty hosts become localhost.
func exampleBase(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(cfg *config.Config, addr, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if cfg != nil {
		if cfg.Retention.Enabled {
			cron := cfg.Retention.Cron
			if cron == "" {
				cron = "0 2 * * *"
			}
			fmt.Printf("Retention: enabled (cron=%s period=%s)\n", cron, cfg.RetentionPeriod())
		} else {
			fmt.Println("Retention: disabled")
		}
		if cfg.RateLimit.RPS > 0 {
			fmt.Printf("Rate limit: %.1f rps (burst %d)\n", cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/conversations - Resolve or create a conversation for a participant pair")
	fmt.Println("GET  /v1/conversations - List conversations, most recently active first")
	fmt.Println("POST /v1/conversations/{id}/messages - Append a message")
	fmt.Println("GET  /v1/conversations/{id}/messages?limit=<n> - List messages, ascending")
	fmt.Println("GET  /v1/conversations/{id}/events - Server-sent events stream of inserts")
	base := exampleBase(addr)
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST '%s/v1/conversations' -d '{\"participant1\":\"alice\",\"participant2\":\"bob\"}'\n", base)
	fmt.Printf("curl '%s/v1/conversations/<id>/messages?limit=10'\n", base)
	fmt.Println("\n== Logs =======================================================")
}
