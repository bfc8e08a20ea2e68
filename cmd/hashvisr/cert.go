package main

import (
	"fmt"
	"path/filepath"

	htls "github.com/loykin/hashvisr/internal/tls"
	"github.com/spf13/cobra"
)

func createCertCommand() *cobra.Command {
	var (
		dir   string
		names []string
		ips   []string
	)
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Generate a self-signed certificate for [server.tls]",
		Long: `Write tls.crt and tls.key into --dir, the layout [server.tls].dir expects.

Examples:
  hashvisr cert --dir=/etc/hashvisr/tls --name=rig.lan --ip=192.168.1.20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			crt, key := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
			if err := htls.GenerateSelfSigned(htls.SelfSigned{
				DNSNames: names, IPs: ips, CertPath: crt, KeyPath: key,
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", crt, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	cmd.Flags().StringSliceVar(&names, "name", nil, "DNS names (default localhost)")
	cmd.Flags().StringSliceVar(&ips, "ip", nil, "IP addresses (default 127.0.0.1, ::1)")
	return cmd
}
