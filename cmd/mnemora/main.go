package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/mnemora/mnemora/pkg/config"
	"github.com/mnemora/mnemora/pkg/db"
	"github.com/mnemora/mnemora/pkg/service"
	"github.com/mnemora/mnemora/pkg/utils"
)

var dbPath string

func main() {
	utils.InitLogger()

	root := &cobra.Command{
		Use:          "mnemora",
		Short:        "Persistent conversation memory for assistants",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")

	root.AddCommand(
		statsCommand(),
		searchCommand(),
		graphCommand(),
		summaryCommand(),
		suggestionsCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDatabase() (*gorm.DB, *config.AppConfig, error) {
	cfg, _, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	path := dbPath
	if path == "" {
		path = cfg.DatabasePath()
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return database, cfg, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store-wide conversation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := openDatabase()
			if err != nil {
				return err
			}
			svc := service.NewConversationService(database)
			if err := svc.AutoMigrate(); err != nil {
				return err
			}
			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func searchCommand() *cobra.Command {
	var limit int
	var byRelevance bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search conversations by text or keyword relevance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := openDatabase()
			if err != nil {
				return err
			}
			convSvc := service.NewConversationService(database)
			if err := convSvc.AutoMigrate(); err != nil {
				return err
			}

			if byRelevance {
				ranked, err := service.NewRelevanceService(database).Rank(cmd.Context(), args, limit)
				if err != nil {
					return err
				}
				for _, r := range ranked {
					fmt.Printf("%s  %-40s  score=%d\n", r.Conversation.ID, r.Conversation.Title, r.Score)
				}
				return nil
			}

			results, err := convSvc.SearchText(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			for _, c := range results {
				fmt.Printf("%s  %-40s  %s\n", c.ID, c.Title, c.LastActiveAt.Format("2006-01-02"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	cmd.Flags().BoolVar(&byRelevance, "relevance", false, "rank by keyword relevance instead of substring match")
	return cmd
}

func graphCommand() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "graph [conversation-id]",
		Short: "Traverse the relation graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := openDatabase()
			if err != nil {
				return err
			}
			convSvc := service.NewConversationService(database)
			if err := convSvc.AutoMigrate(); err != nil {
				return err
			}
			graphSvc := service.NewGraphService(database)
			if err := graphSvc.AutoMigrate(); err != nil {
				return err
			}

			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			graph, err := graphSvc.Traverse(cmd.Context(), root, depth)
			if err != nil {
				return err
			}
			return printJSON(graph)
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 2, "traversal depth from the root")
	return cmd
}

func summaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <conversation-id>",
		Short: "Generate and print a conversation summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := openDatabase()
			if err != nil {
				return err
			}
			svc := service.NewConversationService(database)
			if err := svc.AutoMigrate(); err != nil {
				return err
			}
			summary, err := svc.GenerateSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(summary.ShortSummary)
			fmt.Println()
			fmt.Println(summary.LongSummary)
			if len(summary.Keywords) > 0 {
				fmt.Printf("\nKeywords: %s\n", strings.Join(summary.Keywords, ", "))
			}
			return nil
		},
	}
}

func suggestionsCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Show contextual follow-up suggestions for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, cfg, err := openDatabase()
			if err != nil {
				return err
			}

			store, err := contextStore(database, cfg)
			if err != nil {
				return err
			}
			ttl := time.Duration(cfg.TTLDays()) * 24 * time.Hour
			svc := service.NewEpisodicService(database, store, ttl)
			if err := svc.AutoMigrate(); err != nil {
				return err
			}

			greeting, err := svc.Greeting(cmd.Context(), user)
			if err != nil {
				return err
			}
			fmt.Println(greeting)

			suggestions, err := svc.GetContextualSuggestions(cmd.Context(), user)
			if err != nil {
				return err
			}
			for _, s := range suggestions {
				fmt.Println("-", s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "default", "user to suggest for")
	return cmd
}

func contextStore(database *gorm.DB, cfg *config.AppConfig) (service.ContextStore, error) {
	switch cfg.Backend() {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr(), err)
		}
		return service.NewRedisContextStore(client), nil
	default:
		return service.NewDBContextStore(database), nil
	}
}
