package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/klarvia/internal/config"
	"github.com/jmylchreest/klarvia/internal/output"
	"github.com/jmylchreest/klarvia/pkg/artifact"
)

// artifactRow is one artifact as listed.
type artifactRow struct {
	artifact.Info `yaml:",inline"`
	Cached        bool   `json:"cached" yaml:"cached"`
	Path          string `json:"path" yaml:"path"`
}

func (r artifactRow) Text() string {
	state := "remote"
	if r.Cached {
		state = "cached"
	}
	return fmt.Sprintf("%-24s %-8s %-8s %10s  %s",
		r.Name, displayOr(r.Kind, "-"), displayOr(r.Format, "-"),
		humanize.Bytes(uint64(max(r.SizeBytes, 0))), state)
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and prefetch model artifacts",
	Long: `Inspect the artifact index named by artifact_index (KLARVIA_ARTIFACT_INDEX)
and download artifacts into the local cache ahead of time.`,
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts in the index",
	RunE:  runArtifactsList,
}

var artifactsFetchCmd = &cobra.Command{
	Use:   "fetch NAME...",
	Short: "Download artifacts into the cache",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runArtifactsFetch,
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsListCmd, artifactsFetchCmd)

	artifactsCmd.PersistentFlags().String("index", "", "artifact index file (overrides artifact_index)")

	flags := artifactsListCmd.Flags()
	flags.StringP("format", "f", "text", "output format: text, json, jsonl, yaml")
	flags.String("kind", "", "only list artifacts for this backend: classic, adapter")
	flags.StringSlice("tag", nil, "only list artifacts with this tag (can be repeated)")
}

func openRegistry(cmd *cobra.Command) (*artifact.FlatFile, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	index, _ := cmd.Flags().GetString("index")
	if index == "" {
		index = cfg.ArtifactIndex
	}
	if index == "" {
		return nil, errors.New("no artifact index configured (set --index or KLARVIA_ARTIFACT_INDEX)")
	}
	return artifact.NewFlatFile(index, cfg.ArtifactCacheDir)
}

func runArtifactsList(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry(cmd)
	if err != nil {
		return err
	}

	formatName, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}
	w, err := output.NewWriter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	var opts []artifact.ListOption
	if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
		opts = append(opts, artifact.WithKind(strings.ToLower(kind)))
	}
	if tags, _ := cmd.Flags().GetStringSlice("tag"); len(tags) > 0 {
		opts = append(opts, artifact.WithTags(tags...))
	}

	infos, err := reg.List(commandContext(cmd), opts...)
	if err != nil {
		return err
	}
	for i := range infos {
		row := artifactRow{Info: infos[i], Cached: reg.Cached(&infos[i]), Path: reg.LocalPath(&infos[i])}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runArtifactsFetch(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	var failed int
	for _, name := range args {
		path, err := reg.EnsureCached(ctx, name)
		if err != nil {
			logError("%s: %v", name, err)
			failed++
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d artifacts failed", failed, len(args))
	}
	return nil
}
