package commands

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/microtower/internal/cli/output"
	"github.com/marmos91/microtower/pkg/config"
	"github.com/marmos91/microtower/pkg/runtime"
)

var (
	statusOutput  string
	statusAddress string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the services of a running instance",
	Long: `Query the admin API of a running microtower and list its services.

The admin address defaults to the one in the configuration file.

Examples:
  microtower status
  microtower status --address 127.0.0.1:9090 --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddress, "address", "", "Admin API address (host:port)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServiceList renders the admin service listing as a table.
type ServiceList []runtime.ServiceInfo

func (s ServiceList) Headers() []string {
	return []string{"Name", "Address", "Framing", "Codec", "Replicas", "State", "Connections"}
}

func (s ServiceList) Rows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, info := range s {
		addr := info.Addr
		if !info.Listening {
			addr = "-"
		}
		rows = append(rows, []string{
			info.Name,
			addr,
			info.Framing,
			info.Codec,
			strconv.Itoa(info.Replicas),
			info.State,
			strconv.Itoa(int(info.ActiveConnections)),
		})
	}
	return rows
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	addr := statusAddress
	if addr == "" {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return err
		}
		host := cfg.Admin.BindAddress
		if host == "" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Admin.Port))
	}

	services, err := fetchServices(&http.Client{Timeout: 5 * time.Second}, "http://"+addr)
	if err != nil {
		return err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format).Print(services)
}

func fetchServices(client *http.Client, baseURL string) (ServiceList, error) {
	resp, err := client.Get(baseURL + "/api/v1/services")
	if err != nil {
		return nil, fmt.Errorf("admin API unreachable at %s: %w", baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned %s", resp.Status)
	}

	var body struct {
		Data ServiceList `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode admin response: %w", err)
	}
	return body.Data, nil
}
