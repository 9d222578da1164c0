package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/umi3d/umisync/internal/core/operation"
	"github.com/umi3d/umisync/internal/transport"
)

func newDecodeCmd() *cobra.Command {
	var (
		hexInput bool
		framed   bool
	)
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "print a binary transaction in object form",
		Long: "Reads a binary transaction from file, or stdin when no file is given, " +
			"and prints its JSON object form.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			if hexInput {
				if data, err = hex.DecodeString(string(bytes.TrimSpace(data))); err != nil {
					return fmt.Errorf("decode hex: %w", err)
				}
			}
			out, err := decodePayload(data, framed)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().BoolVar(&hexInput, "hex", false, "input is hex encoded")
	cmd.Flags().BoolVar(&framed, "frame", false, "input is a transport frame")
	return cmd
}

// decodePayload returns the indented object form of a transaction, or of a
// single operation.
func decodePayload(data []byte, framed bool) ([]byte, error) {
	if framed {
		f, err := transport.DecodeFrame(data, 0)
		if err != nil {
			return nil, err
		}
		if f.Flags.Object() {
			var buf bytes.Buffer
			if err := json.Indent(&buf, f.Payload, "", "  "); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
		data = f.Payload
	}

	tx, err := operation.DecodeTransaction(data)
	if err == nil {
		return json.MarshalIndent(tx.ToDto(), "", "  ")
	}
	op, opErr := operation.Decode(data)
	if opErr != nil {
		return nil, err
	}
	return json.MarshalIndent(op.ToDto(), "", "  ")
}
