// klingwallet is a command-line UTXO wallet backed by an Esplora explorer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/picking"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"golang.org/x/term"
)

// Version is set at build time.
var Version = "dev"

// defaultTarget is the confirmation target used when no fee rate is given.
const defaultTarget = 6

// errUsage reports a command line that was already answered with usage text.
var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run executes one command. The wallet environment it opens is closed
// before run returns, on success and on error alike.
func run(args []string) error {
	cfg, flags, err := config.Load(args)
	if errors.Is(err, config.ErrHelp) {
		usage()
		return nil
	}
	if err != nil {
		return err
	}
	if flags.Version {
		fmt.Printf("klingwallet %s\n", Version)
		return nil
	}
	if len(flags.Args) == 0 {
		usage()
		return errUsage
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	cmd := flags.Args[0]
	cmdArgs := flags.Args[1:]
	if cmd == "help" {
		usage()
		return nil
	}

	if cfg.Storage.Sealed {
		cfg.Storage.Password = config.PasswordFromEnv()
		if cfg.Storage.Password == "" {
			pw, err := readPassword("Enter password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			cfg.Storage.Password = string(pw)
		}
	}

	env, err := wallet.Open(cfg)
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{cfg: cfg, env: env, ctx: ctx}
	switch cmd {
	case "seed":
		return c.cmdSeed(cmdArgs)
	case "account":
		return c.cmdAccount(cmdArgs)
	case "sync":
		return c.cmdSync(cmdArgs)
	case "balance":
		return c.cmdBalance(cmdArgs)
	case "utxos":
		return c.cmdUTXOs(cmdArgs)
	case "receive":
		return c.cmdReceive(cmdArgs)
	case "fees":
		return c.cmdFees(cmdArgs)
	case "send":
		return c.cmdSend(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		return errUsage
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingwallet [global options] <command> [flags]

Commands:
  seed create     --name <name>                  Generate and store a new mnemonic seed
  seed import     --name <name>                  Store an existing mnemonic (prompted)
  seed list                                      List stored seeds

  account new     --seed <name> [--mode <m>] [--index <n>]
                                                 Derive an account from a stored seed
  account watch   --xpub <key> [--mode <m>] [--path <p>]
                                                 Add a watch-only account
  account list                                   List stored accounts
  account export  --account <id> [--out <file>]  Write an account as JSON
  account import  --file <file>                  Read an account from JSON

  sync            --account <id>                 Rescan an account against the explorer
  balance         --account <id>                 Show confirmed and unconfirmed balance
  utxos           --account <id>                 List unspent outputs
  receive         --account <id>                 Show the next unused receive address
  fees            --account <id>                 Show explorer fee estimates
  send            --account <id> --to <addr> --amount <amt>
                  [--fee-rate <sat/vB>] [--target <blocks>] [--strategy <name>]
                  [--exclude <txid:vout,...>] [--dry-run]
                                                 Build, sign and broadcast a payment

Modes: legacy, segwit, native_segwit (default), taproot
Strategies: %s

Sealed storage reads its password from KLINGWALLET_PASSWORD or prompts.

`, strings.Join(picking.Names(), ", "))
	config.PrintUsage(os.Stderr)
}

type cli struct {
	cfg *config.Config
	env *wallet.Env
	ctx context.Context
}

func (c *cli) info() (*currency.Info, error) {
	return currency.Lookup(currency.ID(c.cfg.Currency), string(c.cfg.Network))
}

func (c *cli) keystore() (*wallet.Keystore, error) {
	if c.env.Keystore == nil {
		return nil, errors.New("seeds need sealed storage; rerun with --sealed")
	}
	return c.env.Keystore, nil
}

// loadAccount reads the account named by id and checks it belongs to the
// configured chain.
func (c *cli) loadAccount(id string) (*account.Account, error) {
	if id == "" {
		return nil, errors.New("--account is required")
	}
	a, err := c.env.Wallet.LoadAccount(id)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	info, err := c.info()
	if err != nil {
		return nil, err
	}
	if a.Currency().ID != info.ID || a.Currency().Network != info.Network {
		return nil, fmt.Errorf("account %s is on %s, not %s", id, a.Currency(), info)
	}
	return a, nil
}

func (c *cli) save(a *account.Account) error {
	if err := c.env.Wallet.SaveAccount(a); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (c *cli) syncAndSave(a *account.Account) error {
	if err := c.env.Wallet.SyncAccount(c.ctx, a); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return c.save(a)
}

// ── seed ────────────────────────────────────────────────────────────────

func (c *cli) cmdSeed(args []string) error {
	if len(args) == 0 {
		return errors.New("Usage: klingwallet seed <create|import|list> [flags]")
	}
	switch args[0] {
	case "create":
		return c.cmdSeedCreate(args[1:])
	case "import":
		return c.cmdSeedImport(args[1:])
	case "list":
		return c.cmdSeedList()
	default:
		return fmt.Errorf("unknown seed subcommand: %s", args[0])
	}
}

func (c *cli) cmdSeedCreate(args []string) error {
	fs := flag.NewFlagSet("seed create", flag.ExitOnError)
	name := fs.String("name", "", "Seed name")
	fs.Parse(args)

	if *name == "" {
		return errors.New("Usage: klingwallet seed create --name <name>")
	}
	ks, err := c.keystore()
	if err != nil {
		return err
	}

	mnemonic, err := derivation.GenerateMnemonic()
	if err != nil {
		return fmt.Errorf("generate mnemonic: %w", err)
	}
	if err := ks.CreateFromMnemonic(*name, mnemonic, ""); err != nil {
		return fmt.Errorf("create seed: %w", err)
	}

	fmt.Printf("Seed %q created.\n\n", *name)
	fmt.Println("Mnemonic (write this down and keep it safe):")
	fmt.Printf("  %s\n", mnemonic)
	return nil
}

func (c *cli) cmdSeedImport(args []string) error {
	fs := flag.NewFlagSet("seed import", flag.ExitOnError)
	name := fs.String("name", "", "Seed name")
	fs.Parse(args)

	if *name == "" {
		return errors.New("Usage: klingwallet seed import --name <name>")
	}
	ks, err := c.keystore()
	if err != nil {
		return err
	}

	words, err := readPassword("Enter mnemonic: ")
	if err != nil {
		return fmt.Errorf("read mnemonic: %w", err)
	}
	mnemonic := strings.Join(strings.Fields(string(words)), " ")
	if !derivation.ValidateMnemonic(mnemonic) {
		return errors.New("invalid mnemonic")
	}
	if err := ks.CreateFromMnemonic(*name, mnemonic, ""); err != nil {
		return fmt.Errorf("import seed: %w", err)
	}
	fmt.Printf("Seed %q imported.\n", *name)
	return nil
}

func (c *cli) cmdSeedList() error {
	ks, err := c.keystore()
	if err != nil {
		return err
	}
	names, err := ks.List()
	if err != nil {
		return fmt.Errorf("list seeds: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No seeds found.")
		return nil
	}
	for _, name := range names {
		ids, err := ks.ListAccounts(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to read seed %q: %v\n", name, err)
			continue
		}
		fmt.Printf("%s  (%d accounts)\n", name, len(ids))
	}
	return nil
}

// ── account ─────────────────────────────────────────────────────────────

func (c *cli) cmdAccount(args []string) error {
	if len(args) == 0 {
		return errors.New("Usage: klingwallet account <new|watch|list|export|import> [flags]")
	}
	switch args[0] {
	case "new":
		return c.cmdAccountNew(args[1:])
	case "watch":
		return c.cmdAccountWatch(args[1:])
	case "list":
		return c.cmdAccountList()
	case "export":
		return c.cmdAccountExport(args[1:])
	case "import":
		return c.cmdAccountImport(args[1:])
	default:
		return fmt.Errorf("unknown account subcommand: %s", args[0])
	}
}

func (c *cli) cmdAccountNew(args []string) error {
	fs := flag.NewFlagSet("account new", flag.ExitOnError)
	seedName := fs.String("seed", "", "Seed name")
	modeStr := fs.String("mode", string(derivation.NativeSegwit), "Address mode")
	index := fs.Uint("index", 0, "Account index")
	fs.Parse(args)

	if *seedName == "" {
		return errors.New("Usage: klingwallet account new --seed <name> [--mode <mode>] [--index <n>]")
	}
	mode, err := derivation.ParseMode(*modeStr)
	if err != nil {
		return err
	}

	ks, err := c.keystore()
	if err != nil {
		return err
	}
	provider, err := ks.Provider(*seedName)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}

	info, err := c.info()
	if err != nil {
		return err
	}
	a, err := c.env.Wallet.GenerateAccount(c.ctx, account.GenerateConfig{
		KeyProvider: provider,
		Path:        fmt.Sprintf("%d'/%d'", mode.Purpose(), info.CoinType),
		Index:       uint32(*index),
		Currency:    info.ID,
		Network:     info.Network,
		Mode:        mode,
	})
	if err != nil {
		return fmt.Errorf("generate account: %w", err)
	}
	if err := c.env.SaveSeedAccount(*seedName, a); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	printAccount(a)
	return nil
}

func (c *cli) cmdAccountWatch(args []string) error {
	fs := flag.NewFlagSet("account watch", flag.ExitOnError)
	xpub := fs.String("xpub", "", "Account extended public key")
	modeStr := fs.String("mode", string(derivation.NativeSegwit), "Address mode")
	path := fs.String("path", "", "Account path (default purpose'/coin'/0')")
	fs.Parse(args)

	if *xpub == "" {
		return errors.New("Usage: klingwallet account watch --xpub <key> [--mode <mode>] [--path <path>]")
	}
	mode, err := derivation.ParseMode(*modeStr)
	if err != nil {
		return err
	}

	info, err := c.info()
	if err != nil {
		return err
	}
	a, err := c.env.Wallet.GenerateAccountFromXpub(*xpub, info.ID, info.Network, mode, *path)
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	if err := c.save(a); err != nil {
		return err
	}
	printAccount(a)
	return nil
}

func (c *cli) cmdAccountList() error {
	ids, err := c.env.Wallet.ListAccounts()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No accounts found.")
		return nil
	}
	for _, id := range ids {
		a, err := c.env.Wallet.LoadAccount(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load account %s: %v\n", id, err)
			continue
		}
		x := a.Xpub()
		fmt.Printf("%s  %s  %s  %s  balance=%s\n",
			id, a.Currency(), x.Mode, x.Path.Full(), formatAmount(c.env.Wallet.GetAccountBalance(a)))
	}
	return nil
}

func (c *cli) cmdAccountExport(args []string) error {
	fs := flag.NewFlagSet("account export", flag.ExitOnError)
	id := fs.String("account", "", "Account ID")
	out := fs.String("out", "", "Output file (default: stdout)")
	fs.Parse(args)

	a, err := c.loadAccount(*id)
	if err != nil {
		return err
	}
	data, err := account.Marshal(c.env.Wallet.ExportToSerializedAccount(a))
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if *out == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(*out, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("Account %s written to %s\n", a.ID(), *out)
	return nil
}

func (c *cli) cmdAccountImport(args []string) error {
	fs := flag.NewFlagSet("account import", flag.ExitOnError)
	file := fs.String("file", "", "Account JSON file")
	fs.Parse(args)

	if *file == "" {
		return errors.New("Usage: klingwallet account import --file <file>")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}
	a, err := c.env.Wallet.ImportFromJSON(data)
	if err != nil {
		return fmt.Errorf("import account: %w", err)
	}
	if err := c.save(a); err != nil {
		return err
	}
	printAccount(a)
	return nil
}

func printAccount(a *account.Account) {
	x := a.Xpub()
	fmt.Printf("Account:  %s\n", a.ID())
	fmt.Printf("Currency: %s\n", a.Currency())
	fmt.Printf("Mode:     %s\n", x.Mode)
	fmt.Printf("Path:     %s\n", x.Path.Full())
	fmt.Printf("Xpub:     %s\n", x.Key)
}

// ── sync / balance ──────────────────────────────────────────────────────

func (c *cli) cmdSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	id := fs.String("account", "", "Account ID")
	fs.Parse(args)

	a, err := c.loadAccount(*id)
	if err != nil {
		return err
	}
	if err := c.syncAndSave(a); err != nil {
		return err
	}

	a.Lock()
	addrs, utxos, total := len(a.AllAddresses()), len(a.UTXOs()), a.Balance()
	a.Unlock()
	fmt.Printf("Synced %s: %d addresses, %d UTXOs, balance %s\n", a.ID(), addrs, utxos, formatAmount(total))
	return nil
}

func (c *cli) cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	id := fs.String("account", "", "Account ID")
	fs.Parse(args)

	a, err := c.loadAccount(*id)
	if err != nil {
		return err
	}
	b := c.env.Wallet.GetAccountBalanceDetail(a)
	fmt.Printf("Confirmed:   %s\n", formatAmount(b.Confirmed))
	fmt.Printf("Unconfirmed: %s\n", formatAmount(b.Unconfirmed))
	fmt.Printf("Total:       %s\n", formatAmount(b.Total()))
	return nil
}

func (c *cli) cmdUTXOs(args []string) error {
	fs := flag.NewFlagSet("utxos", flag.ExitOnError)
	id := fs.String("account", "", "Account ID")
	fs.Parse(args)

	a, err := c.loadAccount(*id)
	if err != nil {
		return err
	}
	a.Lock()
	utxos := a.UTXOs()
	a.Unlock()

	if len(utxos) == 0 {
		fmt.Println("No unspent outputs.")
		return nil
	}
	for _, u := range utxos {
		fmt.Printf("  %s  %s  conf=%d  %s\n", u.Key(), formatAmount(u.Value), u.Confirmations, u.Address)
	}
	return nil
}

func (c *cli) cmdReceive(args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	id := fs.String("account", "", "Account ID")
	fs.Parse(args)

	a, err := c.loadAccount(*id)
	if err != nil {
		return err
	}
	addr, err := c.env.Wallet.GetAccountNewReceiveAddress(a)
	if err != nil {
		return fmt.Errorf("receive address: %w", err)
	}
	if err := c.save(a); err != nil {
		return err
	}
	fmt.Println(addr)
	return nil
}

func (c *cli) cmdFees(args []string) error {
	fs := flag.NewFlagSet("fees", flag.ExitOnError)
	id := fs.String("account", "", "Account ID")
	fs.Parse(args)

	a, err := c.loadAccount(*id)
	if err != nil {
		return err
	}
	est, err := c.env.Wallet.EstimateFees(c.ctx, a)
	if err != nil {
		return fmt.Errorf("fee estimates: %w", err)
	}
	for _, target := range []int{1, 3, 6, 12, 144} {
		fmt.Printf("  %4d blocks  %d sat/vB\n", target, wallet.FeeRateFor(est, target))
	}
	return nil
}

// ── send ────────────────────────────────────────────────────────────────

func (c *cli) cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	id := fs.String("account", "", "Account ID")
	to := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 0.015)")
	feeRate := fs.Int64("fee-rate", 0, "Fee rate in sat/vB (default: explorer estimate)")
	target := fs.Int("target", defaultTarget, "Confirmation target in blocks for the estimate")
	strategy := fs.String("strategy", picking.NameMerge, "UTXO picking strategy")
	exclude := fs.String("exclude", "", "Comma-separated txid:vout outputs not to spend")
	dryRun := fs.Bool("dry-run", false, "Print the unsigned PSBT instead of signing")
	fs.Parse(args)

	if *id == "" || *to == "" || *amountStr == "" {
		return errors.New("Usage: klingwallet send --account <id> --to <addr> --amount <amt>")
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	a, err := c.loadAccount(*id)
	if err != nil {
		return err
	}
	if err := c.syncAndSave(a); err != nil {
		return err
	}

	rate := *feeRate
	if rate <= 0 {
		rate, err = c.env.Wallet.EstimateFeePerByte(c.ctx, a, *target)
		if err != nil {
			return fmt.Errorf("fee estimate: %w", err)
		}
	}

	var excluded []string
	for _, s := range strings.Split(*exclude, ",") {
		if s = strings.TrimSpace(s); s != "" {
			excluded = append(excluded, s)
		}
	}

	info, err := c.env.Wallet.BuildAccountTx(wallet.BuildParams{
		From:       a,
		Dest:       *to,
		Amount:     amount,
		FeePerByte: rate,
		Strategy:   *strategy,
		Exclude:    excluded,
	})
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	fmt.Printf("Inputs:  %d (%s)\n", len(info.Inputs()), formatAmount(info.InputTotal()))
	for _, out := range info.Outputs() {
		kind := "pay"
		if out.Change {
			kind = "change"
		}
		fmt.Printf("  %-6s %s  %s\n", kind, out.Address, formatAmount(out.Value))
	}
	fmt.Printf("Fee:     %s (%d vB at %d sat/vB)\n", formatAmount(info.Fee()), info.VSize(), info.FeePerByte())

	if *dryRun {
		packet, err := info.PSBT()
		if err != nil {
			return fmt.Errorf("encode psbt: %w", err)
		}
		b64, err := packet.B64Encode()
		if err != nil {
			return fmt.Errorf("encode psbt: %w", err)
		}
		fmt.Printf("PSBT:    %s\n", b64)
		return nil
	}

	ks, err := c.keystore()
	if err != nil {
		return err
	}
	seedName, err := ks.FindAccount(a.ID())
	if err != nil {
		return fmt.Errorf("account %s has no stored seed; use --dry-run and sign externally", a.ID())
	}
	signer, err := ks.Signer(seedName)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}

	signed, err := c.env.Wallet.WithSigner(signer).SignAccountTx(c.ctx, info)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	txid, err := c.env.Wallet.BroadcastAccountTx(c.ctx, a, signed)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	fmt.Printf("Submitted: %s\n", txid)
	return nil
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}
