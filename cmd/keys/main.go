package keys

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"marketrouter/src/app"
	"marketrouter/src/auth"
	"marketrouter/src/model"
	"marketrouter/src/portfolio"
	"marketrouter/src/security"

	logger "github.com/sirupsen/logrus"
)

type AccountStore interface {
	FindByName(ctx context.Context, name string) (*model.Account, error)
	UpsertCredentials(ctx context.Context, account *model.Account) error
	SetTradingEnabled(ctx context.Context, id uint, enabled bool) error
	Suspend(ctx context.Context, id uint, reason string) error
	Revalidate(ctx context.Context, id uint) error
}

type ExchangeFinder interface {
	FindByName(ctx context.Context, name string) (*model.Exchange, error)
}

var errUsage = errors.New("invalid arguments")

// Keys is an interactive console that stores account credentials and revalidates them.
type Keys struct {
	Log       *logger.Entry
	Config    Config
	Accounts  AccountStore
	Exchanges ExchangeFinder
	// Validate checks credentials against the exchange.
	Validate func(ctx context.Context, account *model.Account) error
	Encrypt  func(plaintext string) (string, error)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out, "  help                                                        Show this help message")
	fmt.Fprintln(out, "  shutdown                                                    Exit the application")
	fmt.Fprintln(out, "  set_key <account> <exchange> <strategy> <key> <secret> [passphrase]  Store encrypted keys")
	fmt.Fprintln(out, "  validate <account>                                          Check keys and lift a suspension")
	fmt.Fprintln(out, "  run_on <account>                                            Turn trading on (requires set_key)")
	fmt.Fprintln(out, "  run_off <account>                                           Turn trading off")
	fmt.Fprintln(out, "  hash_token <token>                                          Print the API_TOKEN_HASH for a token")
	fmt.Fprintln(out)
}

func (k *Keys) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := security.CheckKey(); err != nil {
		k.Log.WithError(err).Error("Exchange credentials key unusable")
		return err
	}
	a, err := app.Bootstrap()
	if err != nil {
		k.Log.WithError(err).Error("Failed to bootstrap")
		return err
	}
	if _, err := a.Catalog.Load(ctx); err != nil {
		return err
	}
	k.Config = GetConfig()
	k.Accounts = a.Accounts
	k.Exchanges = a.Exchanges
	k.Validate = a.ValidateCredentials
	k.Encrypt = security.EncryptString

	return k.Run(ctx, os.Stdin, os.Stdout)
}

// Run reads commands from in until shutdown, EOF or ctx is done.
func (k *Keys) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewScanner(in)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for ctx.Err() == nil {
		fmt.Fprint(out, "cmd> ")
		if !reader.Scan() {
			return reader.Err()
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if parts[0] == "shutdown" {
			fmt.Fprintln(out, "Exiting CLI...")
			return nil
		}

		if err := k.exec(ctx, parts, out); err != nil {
			if errors.Is(err, errUsage) {
				printUsage(out)
				continue
			}
			k.Log.WithField("cmd", parts[0]).WithError(err).Error("command failed")
			fmt.Fprintln(out, "error:", err)
		}
	}
	return nil
}

func (k *Keys) exec(ctx context.Context, parts []string, out io.Writer) error {
	switch cmd := parts[0]; cmd {
	case "help":
		printUsage(out)
		return nil

	case "set_key":
		if len(parts) < 6 {
			return errUsage
		}
		passphrase := ""
		if len(parts) > 6 {
			passphrase = parts[6]
		}
		return k.setKey(ctx, parts[1], parts[2], parts[3], parts[4], parts[5], passphrase, out)

	case "validate":
		if len(parts) < 2 {
			return errUsage
		}
		return k.validate(ctx, parts[1], out)

	case "run_on", "run_off":
		if len(parts) < 2 {
			return errUsage
		}
		account, err := k.account(ctx, parts[1])
		if err != nil {
			return err
		}
		if !account.HasCredentials() {
			return fmt.Errorf("no key set for account %s", account.Name)
		}
		if err := k.Accounts.SetTradingEnabled(ctx, account.ID, cmd == "run_on"); err != nil {
			return err
		}
		fmt.Fprintf(out, "trading %s for %s\n", strings.TrimPrefix(cmd, "run_"), account.Name)
		return nil

	case "hash_token":
		if len(parts) < 2 {
			return errUsage
		}
		hash, err := auth.HashToken(parts[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, hash)
		return nil

	default:
		fmt.Fprintln(out, "Unknown command:", cmd)
		return errUsage
	}
}

func (k *Keys) account(ctx context.Context, name string) (*model.Account, error) {
	account, err := k.Accounts.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", name)
	}
	return account, nil
}

func (k *Keys) setKey(ctx context.Context, name, exchangeName, strategyKey, key, secret, passphrase string, out io.Writer) error {
	exchange, err := k.Exchanges.FindByName(ctx, exchangeName)
	if err != nil {
		return err
	}
	if exchange == nil {
		return fmt.Errorf("exchange %s not found, run the markets command first", exchangeName)
	}

	account := &model.Account{
		Name:           name,
		ExchangeID:     exchange.ID,
		StrategyKey:    strategyKey,
		TradingEnabled: k.Config.RunOnServer,
	}
	if account.APIKeyHash, err = k.Encrypt(key); err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	if account.APISecretHash, err = k.Encrypt(secret); err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	if passphrase != "" {
		if account.APIPassphraseHash, err = k.Encrypt(passphrase); err != nil {
			return fmt.Errorf("encrypt passphrase: %w", err)
		}
	}

	if err := k.Accounts.UpsertCredentials(ctx, account); err != nil {
		return err
	}
	fmt.Fprintf(out, "keys stored for %s on %s\n", name, exchangeName)
	return nil
}

// validate checks the stored keys. Valid keys lift a suspension, rejected keys suspend.
func (k *Keys) validate(ctx context.Context, name string, out io.Writer) error {
	account, err := k.account(ctx, name)
	if err != nil {
		return err
	}

	err = k.Validate(ctx, account)
	switch {
	case err == nil:
		if err := k.Accounts.Revalidate(ctx, account.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "keys valid for %s\n", account.Name)
		return nil
	case errors.Is(err, portfolio.ErrCredentials):
		if serr := k.Accounts.Suspend(ctx, account.ID, err.Error()); serr != nil {
			return serr
		}
		fmt.Fprintf(out, "keys rejected for %s, account suspended\n", account.Name)
		return nil
	default:
		return err
	}
}
