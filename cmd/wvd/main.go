// Command wvd creates, inspects and provisions WVD device files.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/devatadev/gowvcdm/internal/logging"
	"github.com/devatadev/gowvcdm/provision"
	"github.com/devatadev/gowvcdm/wv"
)

const usage = `usage: wvd <command> [flags] [args]

commands:
  parse <file.wvd>                      print a WVD file
  new <private_key> <client_id>         create a WVD file
  provision <keybox>                    provision a keybox into a WVD file
  pssh <key id hex>...                  print a Widevine PSSH box for key ids
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		slog.Error("wvd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "parse":
		return parseCmd(args[1:], out)
	case "new":
		return newCmd(args[1:], out)
	case "provision":
		return provisionCmd(ctx, args[1:], out)
	case "pssh":
		return psshCmd(args[1:], out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func parseCmd(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: parse takes one WVD file", errUsage)
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	d, err := wv.NewLocalDevice(wv.FromWVD(bytes.NewReader(b)))
	if err != nil {
		return err
	}

	info := d.Info()
	fmt.Fprintf(out, "Type: %s\n", info.Type)
	fmt.Fprintf(out, "Security Level: %d\n", info.SecurityLevel)
	fmt.Fprintf(out, "Send Key Control Nonce: %t\n", info.Flags&wv.FlagSendKeyControlNonce != 0)
	fmt.Fprintf(out, "System ID: %d\n", d.SystemID())
	fmt.Fprintf(out, "Private Key: %t\n", d.PrivateKey() != nil)
	if c := d.ClientID(); c != nil {
		fmt.Fprintf(out, "Client ID: %s\n", c.GetType())
		for _, nv := range c.GetClientInfo() {
			fmt.Fprintf(out, "  %s: %s\n", nv.GetName(), nv.GetValue())
		}
		fmt.Fprintf(out, "VMP: %t\n", len(c.GetVmpData()) > 0)
	}
	return nil
}

func newCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	typ := fs.String("type", "android", "device type: android or chrome")
	level := fs.Uint("level", 3, "security level, 1 to 3")
	nonce := fs.Bool("nonce", false, "send key control nonces")
	vmpPath := fs.String("vmp", "", "optional VMP blob")
	output := fs.String("out", "", "output WVD file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 2 || *output == "" {
		return fmt.Errorf("%w: new takes a private key, a client id and -out", errUsage)
	}

	if *level < 1 || *level > 3 {
		return fmt.Errorf("%w: security level %d is not between 1 and 3", wv.ErrInvalidInput, *level)
	}
	deviceType, err := wv.ParseDeviceType(*typ)
	if err != nil {
		return err
	}
	info := wv.DeviceInfo{Type: deviceType, SecurityLevel: uint8(*level)}
	if *nonce {
		info.Flags |= wv.FlagSendKeyControlNonce
	}

	privateKey, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	clientID, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return err
	}
	var vmp []byte
	if *vmpPath != "" {
		if vmp, err = os.ReadFile(*vmpPath); err != nil {
			return err
		}
	}

	d, err := wv.NewLocalDevice(wv.FromRaw(info, clientID, privateKey, vmp))
	if err != nil {
		return err
	}
	if err = writeWVD(d, *output); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created %s (%s L%d, system id %d)\n", *output, info.Type, info.SecurityLevel, d.SystemID())
	return nil
}

func provisionCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "provisioning config, defaults to the keybox path with a .yaml extension")
	apiKey := fs.String("key", os.Getenv("WVD_PROVISIONING_KEY"), "provisioning API key")
	url := fs.String("url", provision.DefaultURL, "provisioning endpoint")
	userAgent := fs.String("user-agent", "", "User-Agent header")
	output := fs.String("out", "", "output WVD file")
	verbose := fs.Bool("v", false, "log debug messages")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: provision takes one keybox", errUsage)
	}
	keyboxPath := fs.Arg(0)

	if *configPath == "" {
		*configPath = strings.TrimSuffix(keyboxPath, filepath.Ext(keyboxPath)) + ".yaml"
	}
	cfg, err := provision.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load provisioning config: %w", err)
	}
	kb, err := provision.LoadKeybox(keyboxPath)
	if err != nil {
		return fmt.Errorf("load keybox: %w", err)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	client := &provision.Client{
		URL:       *url,
		APIKey:    *apiKey,
		UserAgent: *userAgent,
		Logger:    logging.New(os.Stderr, level, "text"),
	}
	d, err := client.Provision(ctx, kb, cfg)
	if err != nil {
		return err
	}

	if *output == "" {
		*output = fmt.Sprintf("%s_l%d_%d.wvd",
			strings.TrimSuffix(keyboxPath, filepath.Ext(keyboxPath)), cfg.WVD.SecurityLevel, kb.SystemID)
	}
	if err = writeWVD(d, *output); err != nil {
		return err
	}
	fmt.Fprintf(out, "Generated WVD to %s\n", *output)
	return nil
}

func psshCmd(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: pssh takes at least one key id", errUsage)
	}
	kids := make([][]byte, 0, len(args))
	for _, arg := range args {
		kid, err := hex.DecodeString(strings.ReplaceAll(arg, "-", ""))
		if err != nil {
			return fmt.Errorf("%w: key id %q: %w", wv.ErrInvalidInput, arg, err)
		}
		kids = append(kids, kid)
	}

	pssh, err := wv.BuildPSSH(kids...)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, base64.StdEncoding.EncodeToString(pssh))
	return nil
}

func writeWVD(d *wv.LocalDevice, path string) error {
	b, err := d.MarshalWVD()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
