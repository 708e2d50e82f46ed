package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knowhost/corekit/internal/crypto"
	"github.com/knowhost/corekit/internal/store"
)

func newPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage the host-memory encryption password (spec §4.1)",
	}
	cmd.AddCommand(newPasswordSetCmd())
	cmd.AddCommand(newPasswordUnlockCmd())
	cmd.AddCommand(newPasswordChangeCmd())
	cmd.AddCommand(newPasswordStatusCmd())
	return cmd
}

func newPasswordSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <password>",
		Short: "Set the encryption password for the first time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Crypto.SetPassword(args[0]); err != nil {
				return fmt.Errorf("set password: %w", err)
			}
			_ = crypto.NewKeychain().Persist(args[0])
			fmt.Fprintln(cmd.OutOrStdout(), "password set")
			return nil
		},
	}
	return cmd
}

func newPasswordUnlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock <password>",
		Short: "Unlock the crypto manager for this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Crypto.Unlock(args[0]); err != nil {
				return fmt.Errorf("unlock: %w", err)
			}
			_ = crypto.NewKeychain().Persist(args[0])
			fmt.Fprintln(cmd.OutOrStdout(), "unlocked")
			return nil
		},
	}
	return cmd
}

func newPasswordStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a password is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "has_password=%t unlocked=%t\n", app.Crypto.HasPassword(), app.Crypto.IsUnlocked())
			return nil
		},
	}
	return cmd
}

// newPasswordChangeCmd implements spec §4.1 change_password: every
// encrypted Document and Chunk/BM25Doc in the store is decrypted under
// the old key and re-encrypted under the new one before the verification
// file is rotated, so a failure midway leaves the store unchanged.
func newPasswordChangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change <old-password> <new-password>",
		Short: "Change the encryption password, re-encrypting every stored memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPW, newPW := args[0], args[1]

			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()

			var rotated int
			var bm25Updates []*store.Document
			reencrypt := func(oldKey, newKey []byte) error {
				for _, doc := range app.Docs.List() {
					if !app.Crypto.IsEncrypted(doc.Content) {
						continue
					}
					plain, err := crypto.DecryptWithKey(oldKey, doc.Content)
					if err != nil {
						return fmt.Errorf("decrypt document %s: %w", doc.ID, err)
					}
					ct, err := crypto.EncryptWithKey(newKey, plain)
					if err != nil {
						return fmt.Errorf("re-encrypt document %s: %w", doc.ID, err)
					}
					doc.Content = ct
					rotated++
				}
				for _, rec := range app.Vectors.All() {
					if !app.Crypto.IsEncrypted(rec.Content) {
						continue
					}
					plain, err := crypto.DecryptWithKey(oldKey, rec.Content)
					if err != nil {
						return fmt.Errorf("decrypt chunk %s: %w", rec.ID, err)
					}
					ct, err := crypto.EncryptWithKey(newKey, plain)
					if err != nil {
						return fmt.Errorf("re-encrypt chunk %s: %w", rec.ID, err)
					}
					if err := app.Vectors.UpdateContent(rec.ID, ct); err != nil {
						return fmt.Errorf("update chunk %s: %w", rec.ID, err)
					}
					bm25Updates = append(bm25Updates, &store.Document{
						ID: rec.ID, Content: ct, Filename: rec.Filename, HostID: rec.HostID, Tags: rec.Tags,
					})
				}
				return nil
			}

			if err := app.Crypto.ChangePassword(oldPW, newPW, reencrypt); err != nil {
				return fmt.Errorf("change password: %w", err)
			}
			_ = crypto.NewKeychain().Persist(newPW)
			for _, doc := range app.Docs.List() {
				if err := app.Docs.Put(doc); err != nil {
					return fmt.Errorf("persist rotated document %s: %w", doc.ID, err)
				}
			}
			if len(bm25Updates) > 0 {
				if err := app.BM25.Index(cmd.Context(), bm25Updates); err != nil {
					return fmt.Errorf("persist rotated bm25 entries: %w", err)
				}
			}
			if err := app.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password changed, %d blobs re-encrypted\n", rotated)
			return nil
		},
	}
	return cmd
}
