package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage assets",
}

var assetCreateCmd = &cobra.Command{
	Use:   "create -f <asset.json>",
	Short: "Create an asset",
	RunE:  runAssetCreate,
}

var assetGetCmd = &cobra.Command{
	Use:   "get <asset-id>",
	Short: "Show an asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetGet,
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assets",
	RunE:  runAssetList,
}

var assetDeleteCmd = &cobra.Command{
	Use:   "delete <asset-id>",
	Short: "Delete an asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetDelete,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage policy definitions",
}

var policyCreateCmd = &cobra.Command{
	Use:   "create -f <policy.json>",
	Short: "Create a policy definition",
	RunE:  runPolicyCreate,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy definitions",
	RunE:  runPolicyList,
}

var contractDefCmd = &cobra.Command{
	Use:     "contractdef",
	Aliases: []string{"cd"},
	Short:   "Manage contract definitions",
}

var contractDefCreateCmd = &cobra.Command{
	Use:   "create -f <contractdef.json>",
	Short: "Create a contract definition",
	RunE:  runContractDefCreate,
}

var contractDefListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contract definitions",
	RunE:  runContractDefList,
}

var inputFile string

func init() {
	for _, c := range []*cobra.Command{assetCreateCmd, policyCreateCmd, contractDefCreateCmd} {
		c.Flags().StringVarP(&inputFile, "file", "f", "", "JSON document to send (- for stdin)")
		c.MarkFlagRequired("file")
	}

	assetCmd.AddCommand(assetCreateCmd, assetGetCmd, assetListCmd, assetDeleteCmd)
	policyCmd.AddCommand(policyCreateCmd, policyListCmd)
	contractDefCmd.AddCommand(contractDefCreateCmd, contractDefListCmd)
	rootCmd.AddCommand(assetCmd, policyCmd, contractDefCmd)
}

func runAssetCreate(cmd *cobra.Command, _ []string) error {
	var asset model.Asset
	if err := readJSON(cmd, inputFile, &asset); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.CreateAsset(cmd.Context(), asset)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	cmd.Printf("Created asset %s\n", res.ID)
	return nil
}

func runAssetGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	asset, err := c.GetAsset(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get asset: %w", err)
	}
	return printJSON(cmd, asset)
}

func runAssetList(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	assets, err := c.QueryAssets(cmd.Context(), model.QuerySpec{})
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}
	if len(assets) == 0 {
		cmd.Println("No assets found")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME")
	for _, a := range assets {
		fmt.Fprintf(w, "%s\t%s\t%v\n", a.ID, a.DataAddress.Type(), a.Properties["name"])
	}
	return w.Flush()
}

func runAssetDelete(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.DeleteAsset(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	cmd.Printf("Deleted asset %s\n", args[0])
	return nil
}

func runPolicyCreate(cmd *cobra.Command, _ []string) error {
	var def model.PolicyDefinition
	if err := readJSON(cmd, inputFile, &def); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.CreatePolicy(cmd.Context(), def)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	cmd.Printf("Created policy %s\n", res.ID)
	return nil
}

func runPolicyList(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defs, err := c.QueryPolicies(cmd.Context(), model.QuerySpec{})
	if err != nil {
		return fmt.Errorf("failed to list policies: %w", err)
	}
	return printJSON(cmd, defs)
}

func runContractDefCreate(cmd *cobra.Command, _ []string) error {
	var def model.ContractDefinition
	if err := readJSON(cmd, inputFile, &def); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.CreateContractDefinition(cmd.Context(), def)
	if err != nil {
		return fmt.Errorf("failed to create contract definition: %w", err)
	}
	cmd.Printf("Created contract definition %s\n", res.ID)
	return nil
}

func runContractDefList(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defs, err := c.QueryContractDefinitions(cmd.Context(), model.QuerySpec{})
	if err != nil {
		return fmt.Errorf("failed to list contract definitions: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tACCESS POLICY\tCONTRACT POLICY")
	for _, d := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.AccessPolicyID, d.ContractPolicyID)
	}
	return w.Flush()
}
