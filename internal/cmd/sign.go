package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/pkg/output"
	"github.com/3leaps/icenimbus/pkg/sigv4"
)

var signCmd = &cobra.Command{
	Use:   "sign <url>",
	Short: "Sign an S3 request with SigV4",
	Long: `Compute the SigV4 authorization for a request and print it as a
signature record. Nothing is sent.

Credentials and region come from the storage configuration
(ICENIMBUS_ACCESS_KEY_ID, ICENIMBUS_SECRET_ACCESS_KEY, --region).

Examples:
  icenimbus sign https://bucket.s3.amazonaws.com/db/t/metadata/v2.metadata.json
  icenimbus sign https://bucket.s3.amazonaws.com/test.txt --range 0-9 --date 2013-05-24T00:00:00Z
  icenimbus sign 'http://localhost:9000/bucket?list-type=2&prefix=db/' --header 'x-amz-request-payer:requester'`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

var (
	signMethod  string
	signHeaders []string
	signRange   string
	signDate    string
	signBody    string
)

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVarP(&signMethod, "method", "X", "GET", "HTTP method")
	signCmd.Flags().StringArrayVarP(&signHeaders, "header", "H", nil, "Extra header as name:value (repeatable)")
	signCmd.Flags().StringVar(&signRange, "range", "", "Byte range begin-end (inclusive)")
	signCmd.Flags().StringVar(&signDate, "date", "", "Signing time: RFC 3339, YYYYMMDDTHHMMSSZ or Unix seconds (default: now)")
	signCmd.Flags().StringVar(&signBody, "body", "", "Request body")
}

func runSign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	st := cfg.Storage
	if st.AccessKeyID == "" || st.SecretAccessKey == "" {
		err := errors.New("access key id and secret access key are required")
		return exitError(foundry.ExitInvalidArgument, "Missing credentials", err)
	}

	req, scheme, err := buildSignRequest(args[0])
	if err != nil {
		observability.CLILogger.Error("Invalid request", zap.String("url", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid request", err)
	}
	clock, err := parseSigningTime(signDate)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --date", err)
	}
	if st.SessionToken != "" {
		req.Headers.Set("x-amz-security-token", st.SessionToken)
	}

	signer := sigv4.NewSigner(st.AccessKeyID, st.SecretAccessKey, st.Region)
	auth := signer.Sign(req, clock)

	observability.CLILogger.Debug("Signed request",
		zap.String("canonical_request", req.CanonicalRequest()),
		zap.String("string_to_sign", signer.StringToSign(req, clock)))

	w, _, cleanup, err := createWriter(cmd, uuid.NewString(), "")
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open output", err)
	}
	defer cleanup()

	if err := w.WriteSignature(ctx, output.NewSignatureRecord(req, scheme, auth)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

// buildSignRequest turns rawURL and the sign flags into a request ready to
// be signed.
func buildSignRequest(rawURL string) (*sigv4.Request, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, "", fmt.Errorf("url %q has no host", rawURL)
	}

	req := sigv4.NewRequest(strings.ToUpper(signMethod), u.Host, sigv4.EscapePath(u.Path))
	req.Query = sigv4.CanonicalQuery(u.Query())
	if signBody != "" {
		req.Body = []byte(signBody)
	}

	for _, h := range signHeaders {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, "", fmt.Errorf("header %q is not name:value", h)
		}
		req.Headers.Set(name, strings.TrimSpace(value))
	}

	if signRange != "" {
		begin, end, ok := strings.Cut(signRange, "-")
		if !ok {
			return nil, "", fmt.Errorf("%w: %q", sigv4.ErrInvalidRange, signRange)
		}
		b, errB := strconv.ParseInt(begin, 10, 64)
		e, errE := strconv.ParseInt(end, 10, 64)
		if errB != nil || errE != nil {
			return nil, "", fmt.Errorf("%w: %q", sigv4.ErrInvalidRange, signRange)
		}
		if err := req.SetRange(b, e); err != nil {
			return nil, "", err
		}
	}
	return req, u.Scheme, nil
}

// parseSigningTime accepts RFC 3339, the x-amz-date form or Unix seconds.
// Empty means now.
func parseSigningTime(s string) (sigv4.Clock, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sigv4.Now(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sigv4.Unix(sec), nil
	}
	for _, layout := range []string{time.RFC3339, "20060102T150405Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return sigv4.NewClock(t), nil
		}
	}
	return sigv4.Clock{}, fmt.Errorf("unrecognised time %q", s)
}
