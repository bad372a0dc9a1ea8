// Package main provides the SKALD CLI entry point.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skaldb/skald/pkg/config"
	"github.com/skaldb/skald/pkg/graph"
	"github.com/skaldb/skald/pkg/keyspace"
	"github.com/skaldb/skald/pkg/snapshot"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skald",
		Short: "SKALD - Persistent in-memory graph storage",
		Long: `SKALD is an in-memory graph storage engine with durable images.

The live graph lives entirely in RAM in block-allocated arenas with
tombstone-aware slot reuse; durability comes from serializing the whole
graph into a checksummed image and storing it under a name in a
Badger-backed keyspace. This CLI inspects and verifies those images.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SKALD v%s (%s)\n", version, commit)
		},
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored images in a keyspace",
		RunE:  runList,
	}
	listCmd.Flags().String("data-dir", "", "Keyspace directory (default from config/env)")
	rootCmd.AddCommand(listCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect <name>",
		Short: "Decode a stored image and print its contents summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	inspectCmd.Flags().String("data-dir", "", "Keyspace directory (default from config/env)")
	rootCmd.AddCommand(inspectCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify <name>",
		Short: "Verify a stored image decodes cleanly",
		Long: `Verify loads the named image, checks its checksum, and performs a full
decode into a throwaway graph. A clean exit means the image would restore.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}
	verifyCmd.Flags().String("data-dir", "", "Keyspace directory (default from config/env)")
	rootCmd.AddCommand(verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// diag is the CLI's diagnostic logger, configured from SKALD_LOG_LEVEL and
// SKALD_LOG_FORMAT. Command output proper goes to stdout; diag goes to
// stderr so it can be filtered or piped away.
type diag struct {
	debug bool
	json  bool
}

func newDiag(cfg config.LoggingConfig) *diag {
	return &diag{
		debug: cfg.Level == "DEBUG",
		json:  cfg.Format == "json",
	}
}

func (d *diag) logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if d.json {
		line, _ := json.Marshal(map[string]string{
			"time":  time.Now().UTC().Format(time.RFC3339),
			"level": level,
			"msg":   msg,
		})
		fmt.Fprintln(os.Stderr, string(line))
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n", time.Now().Format("2006-01-02 15:04:05"), level, msg)
}

func (d *diag) Infof(format string, args ...any) { d.logf("INFO", format, args...) }

func (d *diag) Debugf(format string, args ...any) {
	if d.debug {
		d.logf("DEBUG", format, args...)
	}
}

// openKeyspace resolves the keyspace directory from the --data-dir flag,
// falling back to configuration (file + SKALD_* environment), and builds
// the diagnostic logger from the same configuration.
func openKeyspace(cmd *cobra.Command) (*keyspace.Store, *diag, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	log := newDiag(cfg.Logging)

	dir, _ := cmd.Flags().GetString("data-dir")
	if dir == "" {
		dir = cfg.Database.DataDir
	}
	log.Debugf("opening keyspace in %s", dir)
	ks, err := keyspace.Open(keyspace.Options{Dir: dir})
	if err != nil {
		return nil, nil, err
	}
	return ks, log, nil
}

func runList(cmd *cobra.Command, args []string) error {
	ks, _, err := openKeyspace(cmd)
	if err != nil {
		return err
	}
	defer ks.Close()

	names, err := ks.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No images stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tSAVED AT")
	for _, name := range names {
		meta, err := ks.Stat(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", meta.Name, meta.Size, meta.SavedAt.Format("2006-01-02 15:04:05 MST"))
	}
	return w.Flush()
}

func runInspect(cmd *cobra.Command, args []string) error {
	ks, log, err := openKeyspace(cmd)
	if err != nil {
		return err
	}
	defer ks.Close()

	name := args[0]
	image, err := ks.Load(name)
	if err != nil {
		return err
	}
	log.Debugf("loaded image %q (%d bytes)", name, len(image))
	g, err := snapshot.Restore(image, graph.Options{})
	if err != nil {
		return err
	}

	fmt.Printf("Image %q (%d bytes)\n\n", name, len(image))
	fmt.Printf("Nodes: %d live\n", g.NodeCount(""))
	for _, label := range g.Labels() {
		fmt.Printf("  :%s  %d\n", label, g.NodeCount(label))
	}
	fmt.Printf("Edges: %d live\n", g.EdgeCount(""))
	for _, relType := range g.RelationTypes() {
		fmt.Printf("  [%s]  %d\n", relType, g.EdgeCount(relType))
	}
	defs := g.IndexDefinitions()
	fmt.Printf("Indexes: %d\n", len(defs))
	for _, d := range defs {
		fmt.Printf("  :%s(%s)\n", d.Label, d.Property)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ks, log, err := openKeyspace(cmd)
	if err != nil {
		return err
	}
	defer ks.Close()

	name := args[0]
	image, err := ks.Load(name)
	if err != nil {
		return err
	}
	g, err := snapshot.Restore(image, graph.Options{})
	if err != nil {
		return fmt.Errorf("image %q is not restorable: %w", name, err)
	}
	log.Infof("image %q verified", name)
	fmt.Printf("OK: %q decodes cleanly (%d nodes, %d edges, %d indexes)\n",
		name, g.NodeCount(""), g.EdgeCount(""), len(g.IndexDefinitions()))
	return nil
}
