package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List registered policy versions",
		Run:   runPolicies,
	}

	cmd.Flags().String("id", "", "Filter by policy id")

	RootCmd.AddCommand(cmd)
}

func runPolicies(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	policies, err := s.LoadPolicies(cmd.Context())
	if err != nil {
		exitErr("load policies", err)
	}

	for _, p := range policies {
		if id != "" && p.ID != id {
			continue
		}
		b, _ := json.Marshal(map[string]interface{}{
			"id":           p.ID,
			"version":      p.Version,
			"max_width":    p.MaxWidth,
			"max_window":   p.MaxWindow.String(),
			"min_salience": p.MinSalience,
			"ordering":     p.Ordering,
			"predicate":    p.Predicate,
			"follow_links": p.FollowLinks,
			"created_at":   p.CreatedAt,
		})
		fmt.Println(string(b))
	}
}
