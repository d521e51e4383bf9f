package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/hive/internal/config"
	"github.com/mtzanidakis/hive/internal/swarmregistry"
	"github.com/mtzanidakis/hive/internal/topology"
	"github.com/mtzanidakis/hive/internal/vault"
)

// runVault is the CLI-only surface for the Vault: secrets have no HTTP
// endpoint in the External Gateway (spec.md §6's operation table omits
// them), so set/get/list/delete/grant/revoke are reached through this
// command instead, same shape as the teacher's own vault subcommand.
func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	passphrase := os.Getenv("HIVE_VAULT_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("HIVE_VAULT_PASSPHRASE environment variable is required")
	}
	v := vault.New(passphrase)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg, err := swarmregistry.New(cfg.Registry, topology.New(), nil, v)
	if err != nil {
		return fmt.Errorf("open swarm registry: %w", err)
	}
	defer reg.Close()

	switch args[0] {
	case "list":
		return vaultList(reg)
	case "set":
		return vaultSet(reg, args[1:])
	case "get":
		return vaultGet(reg, args[1:])
	case "delete":
		return vaultDelete(reg, args[1:])
	case "grant":
		return vaultGrant(reg, args[1:])
	case "revoke":
		return vaultRevoke(reg, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hive vault <command>

Commands:
  list                               List all secrets (metadata only)
  set <name> --value <str> [--global]   Store a secret
  get <id>                           Decrypt and print a secret
  delete <id>                        Delete a secret
  grant <id> --agent <id>            Grant a scoped secret to an agent
  revoke <id> --agent <id>           Revoke a scoped secret from an agent

Environment:
  HIVE_VAULT_PASSPHRASE              Required. Encryption passphrase.
`)
}

func vaultList(reg *swarmregistry.Registry) error {
	secrets, err := reg.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGLOBAL\tUPDATED")
	for _, s := range secrets {
		global := ""
		if s.Global {
			global = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, global, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func vaultSet(reg *swarmregistry.Registry, args []string) error {
	if len(args) < 3 || args[1] != "--value" {
		return fmt.Errorf("usage: hive vault set <name> --value <string> [--global]")
	}
	name := args[0]
	value := args[2]
	global := false
	for _, a := range args[3:] {
		if a == "--global" {
			global = true
		}
	}

	secret, err := reg.PutSecret("", name, value, global)
	if err != nil {
		return err
	}
	fmt.Printf("Secret %q saved (id=%s)\n", name, secret.ID)
	return nil
}

func vaultGet(reg *swarmregistry.Registry, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hive vault get <id>")
	}
	plaintext, err := reg.RevealSecret(args[0], "")
	if err != nil {
		return err
	}
	fmt.Println(plaintext)
	return nil
}

func vaultDelete(reg *swarmregistry.Registry, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hive vault delete <id>")
	}
	if err := reg.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}

func vaultGrant(reg *swarmregistry.Registry, args []string) error {
	if len(args) < 3 || args[1] != "--agent" {
		return fmt.Errorf("usage: hive vault grant <id> --agent <agentId>")
	}
	if err := reg.GrantSecret(args[2], args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q granted to agent %q\n", args[0], args[2])
	return nil
}

func vaultRevoke(reg *swarmregistry.Registry, args []string) error {
	if len(args) < 3 || args[1] != "--agent" {
		return fmt.Errorf("usage: hive vault revoke <id> --agent <agentId>")
	}
	if err := reg.RevokeSecret(args[2], args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q revoked from agent %q\n", args[0], args[2])
	return nil
}
