package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"modelcache-gateway/internal/cache"
	"modelcache-gateway/internal/inference"
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

func newCacheKeyCmd() *cobra.Command {
	var long string
	cmd := &cobra.Command{
		Use:   "cache-key [file]",
		Short: "Print the cache keys for an inference request body (file or stdin)",
		Long: "Print the cache keys for an inference request body (file or stdin).\n" +
			"With --long, print the short key of an existing long key instead, for\n" +
			"matching a stored row against the short_cache_key column.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if long != "" {
				if len(args) > 0 {
					return errors.New("--long does not take a request file")
				}
				return printShortKey(long, cmd.OutOrStdout())
			}
			in := stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return printCacheKey(in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&long, "long", "", "64-character hex long cache key to decode")
	return cmd
}

type cacheKeyInput struct {
	ModelName    string                           `json:"model_name"`
	ProviderName string                           `json:"provider_name"`
	Request      *inference.ModelInferenceRequest `json:"request"`
}

func printCacheKey(r io.Reader, w io.Writer) error {
	var in cacheKeyInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if in.Request == nil {
		return errors.New("request is required")
	}

	key, err := cache.Fingerprint(in.ModelName, in.ProviderName, in.Request)
	if err != nil {
		return err
	}
	short, err := key.ShortKey()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "short_cache_key: %d\nlong_cache_key:  %s\n", short, key.LongKey())
	return err
}

// printShortKey derives the short key from a long key printed earlier or
// read from a cache row.
func printShortKey(longKey string, w io.Writer) error {
	key, err := cache.ParseKey(strings.TrimSpace(longKey))
	if err != nil {
		return err
	}
	short, err := key.ShortKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "short_cache_key: %d\nlong_cache_key:  %s\n", short, key.LongKey())
	return err
}
