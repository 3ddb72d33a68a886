package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/client"
	"github.com/git-pkgs/comfyregistry/fetch"
	"github.com/git-pkgs/comfyregistry/internal/core"
	"github.com/git-pkgs/comfyregistry/internal/registry"
)

func createDownloadCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download NODE[@VERSION] | PURL",
		Short: "Download a node version archive",
		Example: `  comfyregistry download comfyui-kjnodes
  comfyregistry download comfyui-kjnodes@1.0.5 -o ./archives
  comfyregistry download pkg:comfy/kijai/comfyui-kjnodes@1.0.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.download(cmd.Context(), args[0], output)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", ".", "destination directory or file")
	return cmd
}

func (a *app) download(ctx context.Context, ref, output string) (string, error) {
	nr, err := core.ParseNodeRef(ref)
	if err != nil {
		return "", err
	}

	reg := a.registry(false)
	if nr.RegistryURL != "" {
		reg = registry.New(nr.RegistryURL, a.httpClient(false))
	}

	info, err := fetch.NewResolver(reg).Resolve(ctx, nr.NodeID, nr.Version)
	if err != nil {
		return "", err
	}

	fetcher := fetch.NewFetcher(fetch.WithMaxRetries(a.cfg.Fetch.MaxRetries), fetch.WithUserAgent(client.DefaultClient().UserAgent))
	archive, err := fetcher.Fetch(ctx, info.URL)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", info.URL, err)
	}
	defer func() { _ = archive.Body.Close() }()

	dest := output
	if st, err := os.Stat(output); err == nil && st.IsDir() {
		dest = filepath.Join(output, fmt.Sprintf("%s-%s%s", info.NodeID, info.Version, archiveExt(info.Filename)))
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, archive.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}

	a.logger.Info("downloaded archive",
		zap.String("node_id", info.NodeID),
		zap.String("version", info.Version),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

func archiveExt(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return ext
	}
	return ".zip"
}
