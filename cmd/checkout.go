package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"checkout-service/internal/checkout"
	"checkout-service/internal/service"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// printNavigator hands the payment page to the operator.
type printNavigator struct {
	out io.Writer
}

func (n printNavigator) Navigate(paymentURL string) error {
	_, err := fmt.Fprintf(n.out, "Open the payment page to continue:\n  %s\n", paymentURL)
	return err
}

func checkoutCmd() *cobra.Command {
	var (
		apiURL string
		file   string
		token  string
	)

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Create an order from a JSON file and print the payment page URL",
		Long: `Create an order against a running checkout service.

Examples:
  checkout-service checkout --file order.json
  checkout-service checkout --api https://shop.example.com --file order.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var req service.CreateOrderRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}

			flow := checkout.NewFlow(apiURL, printNavigator{out: cmd.OutOrStdout()}, zerolog.New(cmd.ErrOrStderr()), checkout.WithToken(token))
			txn, err := flow.Start(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("%s: %w", flow.Status().Message, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Transaction: %s\nVerify with: checkout-service verify %s\n", txn, txn)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8082", "checkout service base URL")
	cmd.Flags().StringVarP(&file, "file", "f", "order.json", "order request JSON")
	cmd.Flags().StringVar(&token, "token", os.Getenv("CHECKOUT_TOKEN"), "bearer token for protected endpoints")

	return cmd
}

func verifyCmd() *cobra.Command {
	var (
		apiURL string
		token  string
	)

	cmd := &cobra.Command{
		Use:   "verify [transactionId]",
		Short: "Verify the stored payment status of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow := checkout.NewFlow(apiURL, printNavigator{out: cmd.OutOrStdout()}, zerolog.New(cmd.ErrOrStderr()), checkout.WithToken(token))

			status, err := flow.Complete(cmd.Context(), args[0])
			out, _ := json.MarshalIndent(status, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if err != nil {
				return err
			}
			if status.State != checkout.StateSuccess {
				return fmt.Errorf("payment not confirmed: %s", status.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8082", "checkout service base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("CHECKOUT_TOKEN"), "bearer token for protected endpoints")

	return cmd
}
