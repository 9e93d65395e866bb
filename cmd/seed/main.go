// seed inserts development data: the module tree, two plans with their grants, a verified dev
// identity and its subscription. Safe to re-run; existing rows are left alone.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	accessdomain "ams-control-plane/backend/internal/access/domain"
	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/app"
	"ams-control-plane/backend/internal/config"
	identitydomain "ams-control-plane/backend/internal/identity/domain"
)

const (
	planBasicID = "plan-basic"
	planProID   = "plan-pro"
)

var modules = []accessdomain.Module{
	{ID: "mod-organization", Key: "organization", Name: "Organizations"},
	{ID: "mod-user", Key: "user", Name: "Users", ParentID: "mod-organization"},
	{ID: "mod-role", Key: "role", Name: "Roles", ParentID: "mod-user"},
	{ID: "mod-reports", Key: "reports", Name: "Reports"},
}

var grants = []accessdomain.ModuleAccess{
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planBasicID, ModuleID: "mod-organization", Active: true,
		Limits: map[string]int64{"max_organizations": 1}},
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planBasicID, ModuleID: "mod-user", Active: true,
		Limits: map[string]int64{"max_users": 5}},
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planBasicID, ModuleID: "mod-role", Active: true,
		Limits: map[string]int64{"max_roles": 3}},
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planBasicID, ModuleID: "mod-reports", Active: true,
		Features: map[string]accessdomain.Feature{"export": {Value: "false", Enabled: true}}},
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planProID, ModuleID: "mod-organization", Active: true,
		Limits: map[string]int64{"max_organizations": 10}},
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planProID, ModuleID: "mod-user", Active: true,
		Limits: map[string]int64{"max_users": 100}},
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planProID, ModuleID: "mod-role", Active: true,
		Limits: map[string]int64{"max_roles": 50}},
	{OwnerKind: accessdomain.OwnerPlan, OwnerID: planProID, ModuleID: "mod-reports", Active: true,
		Features: map[string]accessdomain.Feature{"export": {Value: "csv", Enabled: true}}},
}

func main() {
	var (
		email    string
		password string
		plan     string
	)
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Insert development modules, plans and a verified dev identity",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), email, password, plan)
		},
	}
	cmd.Flags().StringVar(&email, "email", "dev@example.com", "dev identity email")
	cmd.Flags().StringVar(&password, "password", "Dev-passw0rd!", "dev identity password")
	cmd.Flags().StringVar(&plan, "plan", planProID, "plan for the dev subscription ("+planBasicID+" or "+planProID+")")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, email, password, plan string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, app.Options{RequireDatabase: true})
	if err != nil {
		return err
	}
	defer a.Close()

	for i := range modules {
		if err := skipDuplicate(a.AccessData.CreateModule(ctx, &modules[i])); err != nil {
			return fmt.Errorf("module %s: %w", modules[i].Key, err)
		}
	}
	for _, p := range []accessdomain.Plan{{ID: planBasicID, Name: "basic"}, {ID: planProID, Name: "pro"}} {
		if err := skipDuplicate(a.AccessData.CreatePlan(ctx, &p)); err != nil {
			return fmt.Errorf("plan %s: %w", p.Name, err)
		}
	}
	for i := range grants {
		if err := a.AccessData.PutModuleAccess(ctx, &grants[i]); err != nil {
			return fmt.Errorf("grant %s/%s: %w", grants[i].OwnerID, grants[i].ModuleID, err)
		}
	}

	existing, err := a.Identities.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		fmt.Printf("identity %s already exists; skipping identity and subscription\n", email)
		return nil
	}

	hash, err := a.Hasher.Hash(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ident := &identitydomain.Identity{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  hash,
		FirstName:     "Dev",
		LastName:      "User",
		Timezone:      "UTC",
		Status:        identitydomain.StatusActive,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.Identities.Create(ctx, ident); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	sub := &accessdomain.Subscription{
		ID:         uuid.NewString(),
		IdentityID: ident.ID,
		PlanID:     plan,
		Status:     accessdomain.SubscriptionActive,
		StartDate:  now,
		EndDate:    now.AddDate(1, 0, 0),
	}
	if err := a.AccessData.CreateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("subscription: %w", err)
	}
	fmt.Printf("seeded identity %s (%s) with subscription %s on %s\n", email, ident.ID, sub.ID, plan)
	return nil
}

func skipDuplicate(err error) error {
	if errors.Is(err, apperr.ErrDuplicateIdentifier) {
		return nil
	}
	return err
}
