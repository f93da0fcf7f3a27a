package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/pkg/mock"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete access log entries older than the retention window",
	RunE:  runPrune,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every mock endpoint to a JSON or YAML document",
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace every mock endpoint with the contents of a document",
	RunE:  runImport,
}

func init() {
	pruneCmd.Flags().Int("days", storage.DefaultRetentionDays, "Remove entries at or older than this many days")

	exportCmd.Flags().StringP("format", "f", "", "Document format (json, yaml); defaults to the output extension")
	exportCmd.Flags().StringP("output", "o", "", "Output file (stdout when empty)")

	importCmd.Flags().String("file", "", "Document to import (.json, .yaml or .yml)")
	importCmd.MarkFlagRequired("file")
}

func runPrune(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")

	_, log, store, err := openStore(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.AccessLogs().DeleteOld(context.Background(), days)
	if err != nil {
		return fmt.Errorf("prune access logs: %w", err)
	}
	log.Info("Access logs pruned", "removed", removed, "days", days)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d access log entries\n", removed)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	if format == "" && output != "" {
		format = mock.FormatFromPath(output)
	}

	_, _, store, err := openStore(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer store.Close()

	endpoints, err := store.Endpoints().ExportAll(context.Background())
	if err != nil {
		return fmt.Errorf("export endpoints: %w", err)
	}
	data, err := mock.EncodeDocument(endpoints, format)
	if err != nil {
		return err
	}

	if output == "" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		return nil
	}
	if err := writeExportFile(output, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d endpoints to %s\n", len(endpoints), output)
	return nil
}

// writeExportFile writes data to path, returning the close error too.
func writeExportFile(path string, data []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close export file: %w", cerr)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	defs, err := mock.ParseDefinitions(data, mock.FormatFromPath(path))
	if err != nil {
		return err
	}

	_, log, store, err := openStore(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.Endpoints().ImportEndpoints(context.Background(), defs)
	if err != nil {
		return fmt.Errorf("import endpoints: %w", err)
	}
	log.Info("Mock endpoints imported", "count", count, "file", path)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d endpoints\n", count)
	return nil
}
