package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/services"
)

func newAdminsCommand(open func(*cobra.Command) (*runtime, error)) *cobra.Command {
	admins := &cobra.Command{
		Use:   "admins",
		Short: "Grant or revoke the super admin role",
	}

	grant := &cobra.Command{
		Use:   "grant <uid>",
		Short: "Give a Firebase user the super admin role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return setRole(cmd, rt, args[0], domain.UserRoleSuperAdmin)
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <uid>",
		Short: "Return a super admin to the merchant role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return setRole(cmd, rt, args[0], domain.UserRoleMerchant)
		},
	}

	admins.AddCommand(grant, revoke)
	return admins
}

// setRole updates the role claim and the stored profile. Users that never signed in have no
// profile yet, so the claim is set directly and a profile is created from the Firebase record.
func setRole(cmd *cobra.Command, rt *runtime, uid string, role domain.UserRole) error {
	ctx := cmd.Context()
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return errors.New("uid is required")
	}

	profile, err := rt.Users.SetUserRole(ctx, services.SetUserRoleCommand{UID: uid, Role: role, Actor: cliActor})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrUserNotFound):
		record, err := rt.Auth.GetUser(ctx, uid)
		if err != nil {
			return fmt.Errorf("lookup firebase user %s: %w", uid, err)
		}
		if err := rt.Auth.SetRole(ctx, uid, string(role)); err != nil {
			return fmt.Errorf("set role claim: %w", err)
		}
		profile, err = rt.Users.EnsureProfile(ctx, services.EnsureProfileCommand{
			UID:         uid,
			Email:       record.Email,
			DisplayName: record.DisplayName,
			Role:        role,
		})
		if err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
	default:
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s; existing sessions pick up the change on token refresh\n", profile.ID, profile.Email, profile.Role)
	return nil
}
