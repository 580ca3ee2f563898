package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog <counter-party-protocol-url>",
	Short: "Request a counter-party's catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalog,
}

var negotiateCmd = &cobra.Command{
	Use:   "negotiate <counter-party-protocol-url> <asset-id>",
	Short: "Negotiate a contract for an asset",
	Long: `Fetches the asset's dataset from the counter-party catalog and starts a
negotiation for its first offer (or the offer given with --offer).`,
	Args: cobra.ExactArgs(2),
	RunE: runNegotiate,
}

var negotiationCmd = &cobra.Command{
	Use:   "negotiation <negotiation-id>",
	Short: "Show a contract negotiation",
	Args:  cobra.ExactArgs(1),
	RunE:  runNegotiationGet,
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Manage transfer processes",
}

var transferStartCmd = &cobra.Command{
	Use:   "start <counter-party-protocol-url> <agreement-id> <asset-id>",
	Short: "Start a transfer process",
	Args:  cobra.ExactArgs(3),
	RunE:  runTransferStart,
}

var transferGetCmd = &cobra.Command{
	Use:   "get <transfer-id>",
	Short: "Show a transfer process",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransferGet,
}

var transferListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transfer processes",
	RunE:  runTransferList,
}

var transferTerminateCmd = &cobra.Command{
	Use:   "terminate <transfer-id>",
	Short: "Terminate a transfer process",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransferTerminate,
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for a process to reach a state",
}

var waitNegotiationCmd = &cobra.Command{
	Use:   "negotiation <negotiation-id>",
	Short: "Wait for a negotiation state (FINALIZED by default)",
	Args:  cobra.ExactArgs(1),
	RunE:  runWaitNegotiation,
}

var waitTransferCmd = &cobra.Command{
	Use:   "transfer <transfer-id>",
	Short: "Wait for a transfer state (STARTED by default)",
	Args:  cobra.ExactArgs(1),
	RunE:  runWaitTransfer,
}

var (
	counterPartyID string
	offerID        string
	wait           bool
	transferType   string
	destFile       string
	destType       string
	destPath       string
	reason         string

	negotiationState string
	transferState    string
)

func init() {
	negotiateCmd.Flags().StringVar(&counterPartyID, "provider-id", "", "Provider participant id (taken from the catalog when empty)")
	negotiateCmd.Flags().StringVar(&offerID, "offer", "", "Offer id to accept instead of the first one")
	negotiateCmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the agreement and print its id")

	transferStartCmd.Flags().StringVarP(&transferType, "type", "t", "HttpData-PULL", "Transfer type, e.g. HttpData-PULL, HttpData-PUSH, File-PUSH")
	transferStartCmd.Flags().StringVarP(&destFile, "dest-file", "f", "", "Data destination as a JSON data address (- for stdin)")
	transferStartCmd.Flags().StringVar(&destType, "dest-type", "", "Destination type when no --dest-file is given")
	transferStartCmd.Flags().StringVar(&destPath, "dest-path", "", "Destination path for File destinations")
	transferStartCmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the transfer is STARTED")

	transferTerminateCmd.Flags().StringVar(&reason, "reason", "terminated by operator", "Termination reason")

	waitNegotiationCmd.Flags().StringVar(&negotiationState, "state", "FINALIZED", "Negotiation state to wait for")
	waitTransferCmd.Flags().StringVar(&transferState, "state", "STARTED", "Transfer state to wait for")

	transferCmd.AddCommand(transferStartCmd, transferGetCmd, transferListCmd, transferTerminateCmd)
	waitCmd.AddCommand(waitNegotiationCmd, waitTransferCmd)
	rootCmd.AddCommand(catalogCmd, negotiateCmd, negotiationCmd, transferCmd, waitCmd)
}

func waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opts.waitTimeout)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	cat, err := c.RequestCatalog(cmd.Context(), controlplane.CatalogRequest{CounterPartyAddress: args[0]})
	if err != nil {
		return fmt.Errorf("failed to request catalog: %w", err)
	}
	return printJSON(cmd, cat)
}

func pickOffer(ds *model.Dataset, id string) (model.Policy, error) {
	if len(ds.Offers) == 0 {
		return model.Policy{}, fmt.Errorf("dataset %s has no offers", ds.ID)
	}
	if id == "" {
		return ds.Offers[0], nil
	}
	for _, o := range ds.Offers {
		if o.ID == id {
			return o, nil
		}
	}
	return model.Policy{}, fmt.Errorf("dataset %s has no offer %s", ds.ID, id)
}

func runNegotiate(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	address, assetID := args[0], args[1]

	providerID := counterPartyID
	var ds *model.Dataset
	if providerID == "" {
		cat, err := c.RequestCatalog(ctx, controlplane.CatalogRequest{CounterPartyAddress: address})
		if err != nil {
			return fmt.Errorf("failed to request catalog: %w", err)
		}
		providerID = cat.ParticipantID
		for i := range cat.Datasets {
			if cat.Datasets[i].ID == assetID {
				ds = &cat.Datasets[i]
				break
			}
		}
		if ds == nil {
			return fmt.Errorf("asset %s is not offered by %s", assetID, address)
		}
	} else {
		ds, err = c.RequestDataset(ctx, controlplane.DatasetRequest{ID: assetID, CounterPartyAddress: address})
		if err != nil {
			return fmt.Errorf("failed to request dataset: %w", err)
		}
	}
	offer, err := pickOffer(ds, offerID)
	if err != nil {
		return err
	}

	id, err := c.Negotiate(ctx, controlplane.ContractRequest{
		CounterPartyAddress: address,
		ProviderID:          providerID,
		Policy:              offer,
	})
	if err != nil {
		return fmt.Errorf("failed to start negotiation: %w", err)
	}
	cmd.Printf("Negotiation %s started\n", id)
	if !wait {
		return nil
	}

	wctx, cancel := waitContext(ctx)
	defer cancel()
	agreementID, err := c.WaitForAgreement(wctx, id)
	if err != nil {
		return fmt.Errorf("negotiation %s: %w", id, err)
	}
	cmd.Printf("Agreement %s\n", agreementID)
	return nil
}

func runNegotiationGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	n, err := c.GetNegotiation(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get negotiation: %w", err)
	}
	return printJSON(cmd, n)
}

func transferDestination(cmd *cobra.Command) (model.DataAddress, error) {
	if destFile != "" {
		var addr model.DataAddress
		if err := readJSON(cmd, destFile, &addr); err != nil {
			return nil, err
		}
		return addr, nil
	}
	if destType == "" {
		if strings.HasSuffix(transferType, "-PULL") {
			return nil, nil
		}
		return nil, fmt.Errorf("push transfers need --dest-file or --dest-type")
	}
	addr := model.NewDataAddress(destType)
	if destPath != "" {
		addr.Set(model.KeyPath, destPath)
	}
	return addr, nil
}

func runTransferStart(cmd *cobra.Command, args []string) error {
	dest, err := transferDestination(cmd)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	id, err := c.StartTransfer(ctx, controlplane.TransferRequest{
		CounterPartyAddress: args[0],
		ContractID:          args[1],
		AssetID:             args[2],
		TransferType:        transferType,
		DataDestination:     dest,
	})
	if err != nil {
		return fmt.Errorf("failed to start transfer: %w", err)
	}
	cmd.Printf("Transfer %s started\n", id)
	if !wait {
		return nil
	}
	wctx, cancel := waitContext(ctx)
	defer cancel()
	if err := c.WaitForTransferState(wctx, id, model.TransferStarted); err != nil {
		return fmt.Errorf("transfer %s: %w", id, err)
	}
	cmd.Printf("Transfer %s is STARTED\n", id)
	return nil
}

func runTransferGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	tp, err := c.GetTransfer(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get transfer: %w", err)
	}
	return printJSON(cmd, tp)
}

func runTransferList(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	tps, err := c.QueryTransfers(cmd.Context(), model.QuerySpec{})
	if err != nil {
		return fmt.Errorf("failed to list transfers: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATE\tASSET\tTRANSFER TYPE")
	for _, tp := range tps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", tp.ID, tp.Type, tp.State, tp.AssetID, tp.TransferType)
	}
	return w.Flush()
}

func runTransferTerminate(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.TerminateTransfer(cmd.Context(), args[0], reason); err != nil {
		return fmt.Errorf("failed to terminate transfer: %w", err)
	}
	cmd.Printf("Transfer %s terminating\n", args[0])
	return nil
}

func runWaitNegotiation(cmd *cobra.Command, args []string) error {
	want, err := model.ParseNegotiationState(strings.ToUpper(negotiationState))
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := waitContext(cmd.Context())
	defer cancel()
	n, err := c.WaitForNegotiationState(ctx, args[0], want)
	if err != nil {
		return err
	}
	cmd.Printf("Negotiation %s is %s\n", n.ID, n.State)
	if n.ContractAgreementID != "" {
		cmd.Printf("Agreement %s\n", n.ContractAgreementID)
	}
	return nil
}

func runWaitTransfer(cmd *cobra.Command, args []string) error {
	want, err := model.ParseTransferState(strings.ToUpper(transferState))
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := waitContext(cmd.Context())
	defer cancel()
	if err := c.WaitForTransferState(ctx, args[0], want); err != nil {
		return err
	}
	cmd.Printf("Transfer %s is %s\n", args[0], want)
	return nil
}
