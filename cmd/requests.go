package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/quinnhq/dispatch/internal/model"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect service requests",
	Long:  "Commands for listing and viewing service requests and their discovered contractors.",
}

// -- requests list --

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List service requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		requests, err := st.ListServiceRequests(ctx, limit, offset)
		if err != nil {
			return eris.Wrap(err, "requests list")
		}

		if len(requests) == 0 {
			fmt.Fprintln(os.Stderr, "No service requests found.")
			return nil
		}

		formatRequestsList(os.Stdout, requests)
		return nil
	},
}

// -- requests show --

var requestsShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show full details of a service request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		req, err := st.GetServiceRequest(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "requests show")
		}

		businesses, err := st.ListBusinesses(ctx, req.ID)
		if err != nil {
			return eris.Wrap(err, "requests show businesses")
		}

		out := struct {
			Request    *model.ServiceRequest `json:"request"`
			Businesses []model.Business      `json:"businesses"`
		}{req, businesses}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func formatRequestsList(w io.Writer, requests []model.ServiceRequest) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCALLER\tSERVICE\tLOCATION\tSTATUS\tDISCOVERY\tCREATED")
	for _, r := range requests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.CallerPhoneAlias, r.ServiceType, r.Location(),
			r.Status, r.DiscoveryStatus, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func init() {
	requestsListCmd.Flags().Int("limit", 50, "maximum requests to list")
	requestsListCmd.Flags().Int("offset", 0, "listing offset")
	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	rootCmd.AddCommand(requestsCmd)
}
