package main

import (
	"errors"
	"fmt"
	"image/png"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/mivoportal/internal/qrauth"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/spf13/cobra"
)

var (
	qrHost   string
	qrTarget string
	qrOutput string
	qrSize   int
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Decode, check and generate login QR codes",
}

var qrDecodeCmd = &cobra.Command{
	Use:   "decode IMAGE",
	Short: "Print the text encoded in a QR image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := decodeFile(cmd, args[0])
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

var qrCheckCmd = &cobra.Command{
	Use:   "check [flags] IMAGE|TEXT",
	Short: "Check a QR payload the way the login page would",
	Long: `Validate a QR payload against the portal hostname and the fields the
target login form needs. The argument is read as an image file when one
exists at that path, and as the decoded text otherwise.`,
	Example: `  mivoportal qr check --host hotspot.lan --target member voucher.png
  mivoportal qr check --host hotspot.lan --target check "http://hotspot.lan/check?code=ABC"`,
	Args: cobra.ExactArgs(1),
	RunE: runQRCheck,
}

var qrEncodeCmd = &cobra.Command{
	Use:     "encode [flags] TEXT",
	Short:   "Write a QR image for a login URL",
	Example: `  mivoportal qr encode -o voucher.png "http://hotspot.lan/login?user=ABC&password=ABC"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runQREncode,
}

func init() {
	qrCheckCmd.Flags().StringVar(&qrHost, "host", "", "Hostname the login page is served on (required)")
	qrCheckCmd.Flags().StringVar(&qrTarget, "target", string(qrauth.TargetVoucher), "Login form: voucher, member or check")
	_ = qrCheckCmd.MarkFlagRequired("host")

	qrEncodeCmd.Flags().StringVarP(&qrOutput, "output", "o", "qr.png", "Output PNG path")
	qrEncodeCmd.Flags().IntVar(&qrSize, "size", 256, "Image width and height in pixels")

	qrCmd.AddCommand(qrDecodeCmd)
	qrCmd.AddCommand(qrCheckCmd)
	qrCmd.AddCommand(qrEncodeCmd)
	rootCmd.AddCommand(qrCmd)
}

func decodeFile(cmd *cobra.Command, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	text, err := qrauth.NewImageScanner(true).Decode(cmd.Context(), f)
	if err != nil {
		return "", &qrauth.CaptureError{Source: qrauth.SourceFile, Err: err}
	}
	return text, nil
}

func runQRCheck(cmd *cobra.Command, args []string) error {
	target, err := qrauth.ParseTarget(qrTarget)
	if err != nil {
		return err
	}

	text := args[0]
	if info, statErr := os.Stat(text); statErr == nil && !info.IsDir() {
		if text, err = decodeFile(cmd, text); err != nil {
			return err
		}
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	_, _ = cyan.Println("QR Check")
	fmt.Printf("  Payload:  %s\n", text)
	fmt.Printf("  Page:     %s\n", qrHost)
	fmt.Printf("  Target:   %s (%s)\n", target, target.Intent())

	res, err := qrauth.Validate(text, qrHost, target.Intent())
	if err != nil {
		var rej *qrauth.RejectionError
		if errors.As(err, &rej) {
			_, _ = red.Printf("  Result:   REJECTED (%s)\n", rej.Cause)
			fmt.Printf("  Message:  %s\n", rej.Message())
			return fmt.Errorf("payload rejected")
		}
		return err
	}

	_, _ = green.Println("  Result:   ACCEPTED")
	fmt.Printf("  Display:  %s\n", res.Display)
	if target.Intent() == qrauth.IntentLogin {
		fmt.Println("  Action:   awaiting confirmation before submit")
	} else {
		fmt.Println("  Action:   voucher check runs immediately")
	}
	return nil
}

func runQREncode(cmd *cobra.Command, args []string) error {
	matrix, err := qrcode.NewQRCodeWriter().Encode(args[0], gozxing.BarcodeFormat_QR_CODE, qrSize, qrSize, nil)
	if err != nil {
		return fmt.Errorf("encode QR: %w", err)
	}

	f, err := os.Create(qrOutput)
	if err != nil {
		return err
	}
	if err := png.Encode(f, matrix); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", qrOutput, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", qrOutput)
	return nil
}
