package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hive-corporation/threatfeed/internal/adapter/exporter"
	"github.com/hive-corporation/threatfeed/internal/adapter/handler"
	"github.com/hive-corporation/threatfeed/internal/adapter/provider"
	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
)

var (
	serverAddr string
	cfgFile    string
	threatType string
	format     string
	timeout    time.Duration
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "threatfeed",
	Short: "Threat feed command-line client",
	Long: `threatfeed queries a running threatfeed API over gRPC and
checks feed payloads locally.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			_ = viper.ReadInConfig()
		}
		viper.SetEnvPrefix("threatfeed")
		viper.AutomaticEnv()

		if serverAddr == "" {
			serverAddr = viper.GetString("server")
		}
		if serverAddr == "" {
			serverAddr = "localhost:50051"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "threatfeed gRPC address (default localhost:50051)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	threatsCmd.Flags().StringVar(&threatType, "type", "All", "filter: All, Phishing, Malware or Spam")
	checkCmd.Flags().StringVar(&threatType, "type", "All", "filter for the export")
	checkCmd.Flags().StringVar(&format, "format", "", "also print the feed as cef, stix or json")

	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(threatsCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(checkCmd)
}

func dial() (*handler.FeedServiceClient, func(), error) {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", serverAddr, err)
	}
	return handler.NewFeedServiceClient(conn), func() { conn.Close() }, nil
}

// ── summary ──────────────────────────────────────────────────────────────────

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the summary of the served snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeConn, err := dial()
		if err != nil {
			return err
		}
		defer closeConn()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := client.GetSummary(ctx)
		if err != nil {
			return fmt.Errorf("get summary: %w", err)
		}
		s := resp.AsMap()

		fmt.Printf("📊 snapshot %v (ingested %v)\n\n", s["snapshot_id"], s["ingested_at"])
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Emails scanned\t%v\n", s["emails_scanned"])
		fmt.Fprintf(w, "Threats detected\t%v\n", s["threats_detected"])
		fmt.Fprintf(w, "Quarantined items\t%v\n", s["quarantined_items"])
		if byRisk, ok := s["by_risk"].(map[string]any); ok {
			for _, level := range []domain.RiskLevel{domain.Critical, domain.High, domain.Medium, domain.Low} {
				fmt.Fprintf(w, "  %s\t%v\n", level, orZero(byRisk[level.String()]))
			}
		}
		w.Flush()

		if d, ok := s["discrepancies"].([]any); ok && len(d) > 0 {
			fmt.Println()
			for _, msg := range d {
				fmt.Printf("⚠️  %v\n", msg)
			}
		}
		return nil
	},
}

// ── threats ──────────────────────────────────────────────────────────────────

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "List threats, highest risk first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := domain.ParseFilter(threatType); err != nil {
			return err
		}

		client, closeConn, err := dial()
		if err != nil {
			return err
		}
		defer closeConn()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := client.QueryThreats(ctx, threatType)
		if err != nil {
			return fmt.Errorf("query threats: %w", err)
		}

		threats, _ := resp.AsMap()["threats"].([]any)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tTYPE\tRISK\tSCORE\tSTATUS\tSENDER")
		for _, item := range threats {
			t, ok := item.(map[string]any)
			if !ok {
				continue
			}
			details, _ := t["details"].(map[string]any)
			fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
				t["id"], t["timestamp"], t["type"], t["risk_level"], t["risk_score"], t["status"], details["sender"])
		}
		w.Flush()

		fmt.Printf("\n%d threats (%s)\n", len(threats), threatType)
		return nil
	},
}

// ── classify ─────────────────────────────────────────────────────────────────

var classifyCmd = &cobra.Command{
	Use:   "classify <score>",
	Short: "Show the risk level a score maps to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("score must be an integer: %w", err)
		}
		level := domain.ClassifyRisk(score)
		fmt.Printf("%d -> %s (%s)\n", score, level, level.Band())
		return nil
	},
}

// ── check ────────────────────────────────────────────────────────────────────

var checkCmd = &cobra.Command{
	Use:   "check <feed.json>",
	Short: "Validate a feed payload without a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := domain.ParseFilter(threatType)
		if err != nil {
			return err
		}

		store := feed.NewStore()
		snap, err := store.Ingest(cmd.Context(), provider.NewFileFeedProvider(args[0]))
		if err != nil {
			return fmt.Errorf("❌ FAIL: %w", err)
		}

		for _, msg := range snap.Summary.Discrepancies {
			fmt.Printf("⚠️  %s\n", msg)
		}
		byRisk := snap.CountByRisk()
		fmt.Printf("✅ OK: %d records (%d critical, %d high, %d medium, %d low)\n",
			snap.Len(), byRisk[domain.Critical], byRisk[domain.High], byRisk[domain.Medium], byRisk[domain.Low])

		if format == "" {
			return nil
		}
		exp, err := exporter.ForFormat(format)
		if err != nil {
			return err
		}
		out, err := exp.Export(snap, filter)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func orZero(v any) any {
	if v == nil {
		return 0
	}
	return v
}
