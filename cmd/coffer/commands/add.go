// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/ssh"

	"github.com/coffer-foundation/coffer/lib/secret"
	"github.com/coffer-foundation/coffer/vault"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func addCommand() *cli.Command {
	var configPath *string
	var credentialType string
	var level string
	var payloadFile string
	var generate bool
	var importPath string
	var comment string
	var metadataPairs []string

	return &cli.Command{
		Name:    "add",
		Summary: "Add a credential",
		Description: `Add a credential to the vault.

The secret payload comes from --payload-file, an interactive prompt,
or (for ssh keys) --generate or --import. SSH keys must be ed25519;
the vault stores the seed and the OpenSSH public key text.`,
		Usage: "coffer add <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.StringVar(&credentialType, "type", "password", "credential type: password, ssh_key, crypto_wallet, note, file")
			flagSet.StringVar(&level, "level", "standard", "security level: standard, high, critical")
			flagSet.StringVar(&payloadFile, "payload-file", "", "read the secret payload from a file (\"-\" for stdin)")
			flagSet.BoolVar(&generate, "generate", false, "generate a fresh ed25519 key (ssh_key only)")
			flagSet.StringVar(&importPath, "import", "", "import an OpenSSH ed25519 private key file (ssh_key only)")
			flagSet.StringVar(&comment, "comment", "", "public key comment for generated or imported ssh keys")
			flagSet.StringArrayVar(&metadataPairs, "metadata", nil, "metadata key=value (repeatable)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Store a password, prompted interactively",
				Command:     "coffer add prod-db --metadata username=admin",
			},
			{
				Description: "Generate an SSH key the agent can serve",
				Command:     "coffer add deploy-key --type ssh_key --generate --comment deploy@example.com",
			},
			{
				Description: "Import an existing OpenSSH ed25519 key",
				Command:     "coffer add laptop-key --type ssh_key --import ~/.ssh/id_ed25519",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: coffer add <name> [flags]")
			}
			name := args[0]

			securityLevel, err := parseLevel(level)
			if err != nil {
				return err
			}
			metadata, err := parseMetadata(metadataPairs)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, *configPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			payload, publicKey, err := buildPayload(vault.CredentialType(credentialType), name, payloadSources{
				file:       payloadFile,
				generate:   generate,
				importPath: importPath,
				comment:    comment,
			})
			if err != nil {
				return err
			}
			defer secret.Zero(payload)

			credential, err := s.vault.CreateCredential(ctx, vault.CreateParams{
				IdentityID: s.identityID(),
				Type:       vault.CredentialType(credentialType),
				Name:       name,
				Level:      securityLevel,
				Payload:    payload,
				Metadata:   metadata,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Added %s %q (%s)\n", credential.Type, credential.Name, credential.ID)
			if publicKey != "" {
				fmt.Printf("Public key: %s\n", strings.TrimSpace(publicKey))
			}
			return nil
		},
	}
}

// payloadSources carries the mutually exclusive payload inputs of the
// add command.
type payloadSources struct {
	file       string
	generate   bool
	importPath string
	comment    string
}

// buildPayload produces the plaintext payload for a new credential.
// For ssh keys it returns the OpenSSH public key text as well so the
// command can echo it.
func buildPayload(credentialType vault.CredentialType, name string, sources payloadSources) ([]byte, string, error) {
	if credentialType == vault.TypeSSHKey {
		switch {
		case sources.generate && sources.importPath != "":
			return nil, "", fmt.Errorf("--generate and --import are mutually exclusive")
		case sources.generate:
			return generateSSHKey(name, sources.comment)
		case sources.importPath != "":
			return importSSHKey(sources.importPath, name, sources.comment)
		default:
			return nil, "", fmt.Errorf("ssh_key credentials need --generate or --import")
		}
	}

	if sources.generate || sources.importPath != "" {
		return nil, "", fmt.Errorf("--generate and --import apply to --type ssh_key only")
	}

	if sources.file != "" {
		buffer, err := secret.ReadFromPath(sources.file)
		if err != nil {
			return nil, "", err
		}
		defer buffer.Close()
		payload := make([]byte, buffer.Len())
		copy(payload, buffer.Bytes())
		return payload, "", nil
	}

	buffer, err := secret.ReadFromTerminal(fmt.Sprintf("Secret value for %q: ", name))
	if err != nil {
		return nil, "", err
	}
	defer buffer.Close()
	payload := make([]byte, buffer.Len())
	copy(payload, buffer.Bytes())
	return payload, "", nil
}

// generateSSHKey creates a fresh ed25519 keypair and encodes it in
// the vault's ssh key payload shape.
func generateSSHKey(name, comment string) ([]byte, string, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generating ed25519 key: %w", err)
	}
	defer secret.Zero(privateKey)

	seed := privateKey.Seed()
	defer secret.Zero(seed)

	return encodeSSHKey(seed, publicKey, name, comment)
}

// importSSHKey reads an unencrypted OpenSSH ed25519 private key file
// and converts it to the vault's ssh key payload shape.
func importSSHKey(path, name, comment string) ([]byte, string, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	defer secret.Zero(keyBytes)

	parsed, err := ssh.ParseRawPrivateKey(keyBytes)
	if err != nil {
		var passphraseErr *ssh.PassphraseMissingError
		if errors.As(err, &passphraseErr) {
			return nil, "", fmt.Errorf("%s is passphrase-protected; decrypt it first (ssh-keygen -p)", path)
		}
		return nil, "", fmt.Errorf("parsing %s: %w", path, err)
	}

	privateKey, ok := parsed.(*ed25519.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("%s is not an ed25519 key", path)
	}
	defer secret.Zero(*privateKey)

	seed := privateKey.Seed()
	defer secret.Zero(seed)

	return encodeSSHKey(seed, privateKey.Public().(ed25519.PublicKey), name, comment)
}

// encodeSSHKey marshals the seed and public key into the JSON payload
// stored for TypeSSHKey credentials.
func encodeSSHKey(seed []byte, publicKey ed25519.PublicKey, name, comment string) ([]byte, string, error) {
	sshPublicKey, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return nil, "", fmt.Errorf("encoding public key: %w", err)
	}

	publicText := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublicKey)))
	if comment == "" {
		comment = name
	}
	publicText = publicText + " " + comment

	payload, err := json.Marshal(vault.SSHKeyData{
		PrivateKey: base64.StdEncoding.EncodeToString(seed),
		PublicKey:  publicText,
	})
	if err != nil {
		return nil, "", fmt.Errorf("encoding ssh key payload: %w", err)
	}
	return payload, publicText, nil
}
