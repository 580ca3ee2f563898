package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/dataspace/pkg/client"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

var edrCmd = &cobra.Command{
	Use:   "edr",
	Short: "Work with endpoint data references",
}

var edrGetCmd = &cobra.Command{
	Use:   "get <transfer-id>",
	Short: "Show the EDR of a started PULL transfer",
	Args:  cobra.ExactArgs(1),
	RunE:  runEDRGet,
}

var edrListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached EDRs",
	RunE:  runEDRList,
}

var edrFetchCmd = &cobra.Command{
	Use:   "fetch <transfer-id>",
	Short: "Pull data through the provider's public API",
	Args:  cobra.ExactArgs(1),
	RunE:  runEDRFetch,
}

var dataPlaneCmd = &cobra.Command{
	Use:     "dataplane",
	Aliases: []string{"dp"},
	Short:   "Manage data plane registrations",
}

var dataPlaneRegisterCmd = &cobra.Command{
	Use:   "register -f <instance.json>",
	Short: "Register a data plane instance",
	RunE:  runDataPlaneRegister,
}

var dataPlaneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered data planes",
	RunE:  runDataPlaneList,
}

var fcCmd = &cobra.Command{
	Use:   "fc",
	Short: "Query the federated catalog",
}

var fcQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List crawled catalogs",
	RunE:  runFCQuery,
}

var (
	fetchPath  string
	fetchQuery string
	queryFile  string
)

func init() {
	edrFetchCmd.Flags().StringVar(&fetchPath, "path", "", "Path appended to the EDR endpoint")
	edrFetchCmd.Flags().StringVar(&fetchQuery, "query", "", "Raw query string forwarded to the source")
	edrFetchCmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the EDR to become available")

	dataPlaneRegisterCmd.Flags().StringVarP(&inputFile, "file", "f", "", "Data plane instance JSON (- for stdin)")
	dataPlaneRegisterCmd.MarkFlagRequired("file")

	fcQueryCmd.Flags().StringVarP(&queryFile, "file", "f", "", "Query spec JSON (- for stdin)")

	edrCmd.AddCommand(edrGetCmd, edrListCmd, edrFetchCmd)
	dataPlaneCmd.AddCommand(dataPlaneRegisterCmd, dataPlaneListCmd)
	fcCmd.AddCommand(fcQueryCmd)
	rootCmd.AddCommand(edrCmd, dataPlaneCmd, fcCmd)
}

func runEDRGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	edr, err := c.GetEDR(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get edr: %w", err)
	}
	if exp, err := client.TokenExpiry(edr.GetString(model.KeyAuthorization)); err == nil && !exp.IsZero() {
		cmd.PrintErrf("Token expires %s\n", exp.Format(time.RFC3339))
	}
	return printJSON(cmd, edr)
}

func runEDRList(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	entries, err := c.QueryEDRs(cmd.Context(), model.QuerySpec{})
	if err != nil {
		return fmt.Errorf("failed to list edrs: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TRANSFER\tASSET\tAGREEMENT\tPROVIDER")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.TransferProcessID, e.AssetID, e.AgreementID, e.ProviderID)
	}
	return w.Flush()
}

func runEDRFetch(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	var edr model.DataAddress
	if wait {
		wctx, cancel := waitContext(ctx)
		defer cancel()
		edr, err = c.WaitForEDR(wctx, args[0])
	} else {
		edr, err = c.GetEDR(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get edr: %w", err)
	}
	data, err := c.FetchData(ctx, edr, fetchPath, strings.TrimPrefix(fetchQuery, "?"))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runDataPlaneRegister(cmd *cobra.Command, _ []string) error {
	var inst model.DataPlaneInstance
	if err := readJSON(cmd, inputFile, &inst); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.RegisterDataPlane(cmd.Context(), inst); err != nil {
		return fmt.Errorf("failed to register data plane: %w", err)
	}
	cmd.Printf("Registered data plane %s\n", inst.ID)
	return nil
}

func runDataPlaneList(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	planes, err := c.ListDataPlanes(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list data planes: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tURL\tSTATE\tTRANSFER TYPES")
	for _, p := range planes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.URL, p.State, strings.Join(p.AllowedTransferTypes, ","))
	}
	return w.Flush()
}

func runFCQuery(cmd *cobra.Command, _ []string) error {
	var q model.QuerySpec
	if queryFile != "" {
		if err := readJSON(cmd, queryFile, &q); err != nil {
			return err
		}
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	cats, err := c.QueryFederatedCatalog(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("failed to query federated catalog: %w", err)
	}
	return printJSON(cmd, cats)
}
