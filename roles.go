package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/gofiber/fiber/v2"
)

type DefaultRolesJson struct {
	RoleName    string
	Permissions []string
}

//go:embed config/default_roles.json
var defaultRolesJson []byte

func (r *Roles) GetPermissions() ([]string, error) {
	var permissions []string
	err := json.Unmarshal([]byte(r.Permissions), &permissions)
	return permissions, err
}

// InitializeRoles seeds the role table from the embedded defaults. The role
// set is fixed by the product, so existing rows are never overwritten but
// missing ones are always restored.
func InitializeRoles() error {
	var defaultRoles []DefaultRolesJson
	if err := json.Unmarshal(defaultRolesJson, &defaultRoles); err != nil {
		return fmt.Errorf("failed to parse default roles: %w", err)
	}

	for _, role := range defaultRoles {
		existingRole := Roles{}
		result := db.Where("role_name = ?", role.RoleName).First(&existingRole)
		if result.RowsAffected == 0 {
			permissionsJSON, err := json.Marshal(role.Permissions)
			if err != nil {
				return fmt.Errorf("failed to marshal permissions: %w", err)
			}
			newRole := Roles{
				RoleName:    role.RoleName,
				Permissions: string(permissionsJSON),
			}
			if err := db.Create(&newRole).Error; err != nil {
				return fmt.Errorf("failed to create role: %w", err)
			}
		}
	}
	return nil
}

func GetRolePermissions(roleName string) ([]string, error) {
	var role Roles
	if err := db.Where("role_name = ?", roleName).First(&role).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch role details: %w", err)
	}
	return role.GetPermissions()
}

// CheckIfTokenHasPermission validates the caller's session and requires the
// named permission on its role.
func CheckIfTokenHasPermission(c *fiber.Ctx, permission string) error {
	session, ok := session_from_ctx(c)
	if !ok {
		return fmt.Errorf("session expired")
	}
	permissions, err := GetRolePermissions(session.Role)
	if err != nil {
		return err
	}
	if !slices.Contains(permissions, permission) {
		return fmt.Errorf("missing permission %s", permission)
	}
	return nil
}
