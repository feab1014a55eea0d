package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/scaffold"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <client> <name>",
		Short: "Scaffold a new configuration",
		Long:  "Create <client>/<name>.toml under the configurations directory with placeholder settings for the chosen protocol.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, _ := cmd.Flags().GetString("protocol")
			path, err := scaffold.Create(settings.ConfigurationsDir, args[0], args[1], domain.ParseProtocol(proto))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Created %s\n", path)
			fmt.Fprintln(w, "\nNext steps:")
			fmt.Fprintln(w, "  1. Fill in [settings] and add the referenced secrets")
			fmt.Fprintln(w, "  2. Set active = true when ready")
			fmt.Fprintln(w, "  3. Run `fileretrieval validate` to check your configuration")
			return nil
		},
	}

	cmd.Flags().String("protocol", string(domain.ProtocolFTP), "protocol: ftp, https, azureblob, sftp or s3")

	return cmd
}
