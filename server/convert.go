package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/phambaophuc/brushset-converter/internal/config"
	"github.com/phambaophuc/brushset-converter/internal/services/converter"
	"github.com/phambaophuc/brushset-converter/internal/services/verification"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type convertOptions struct {
	out          string
	orderID      string
	transparency bool
	skipVerify   bool
}

var convertFlags convertOptions

var convertCmd = &cobra.Command{
	Use:   "convert [flags] FILE.brushset...",
	Short: "Convert local brush sets into one zip",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertFlags.out, "out", "o", "", "output zip path (defaults to the generated download name)")
	convertCmd.Flags().StringVar(&convertFlags.orderID, "order-id", "", "marketplace order id to verify")
	convertCmd.Flags().BoolVar(&convertFlags.transparency, "transparency", false, "turn grayscale brushes into alpha masks")
	convertCmd.Flags().BoolVar(&convertFlags.skipVerify, "skip-verify", false, "do not contact the marketplace")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var gateway verification.Gateway = verification.Disabled{}
	if !convertFlags.skipVerify {
		gateway = verification.New(cfg.Marketplace, logger)
	}
	svc := converter.NewServiceFromConfig(cfg, gateway, logger)

	inputs, err := fileInputs(args)
	if err != nil {
		return err
	}

	result, err := svc.ProcessBatch(cmd.Context(), inputs, converter.Options{
		OrderID:      convertFlags.orderID,
		Transparency: convertFlags.transparency,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, a := range result.Archives {
		if a.Err != nil {
			fmt.Fprintf(out, "FAIL %s: %s\n", a.Name, a.Err.Message)
			continue
		}
		fmt.Fprintf(out, "ok   %s: %d brushes (%d not images, %d too small, %d too large)\n",
			a.Name, a.Images, a.Skipped.NotImage, a.Skipped.TooSmall, a.Skipped.TooLarge)
	}
	if !result.Succeeded() {
		return fmt.Errorf("no download produced: %w", result.Err())
	}

	path := convertFlags.out
	if path == "" {
		path = result.Filename
	}
	if err := os.WriteFile(path, result.Archive, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info("Download written", zap.String("path", path), zap.Int("brushes", result.BrushCount()))
	fmt.Fprintf(out, "wrote %d brushes to %s\n", result.BrushCount(), path)
	return nil
}

func fileInputs(paths []string) ([]converter.Input, error) {
	inputs := make([]converter.Input, 0, len(paths))
	for _, p := range paths {
		p := p
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		inputs = append(inputs, converter.Input{
			Name: filepath.Base(p),
			Size: info.Size(),
			Open: func() (io.ReadCloser, error) { return os.Open(p) },
		})
	}
	return inputs, nil
}
