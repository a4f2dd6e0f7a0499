package api

import (
	"sort"

	"github.com/lalith-99/agenda/internal/models"
)

func sortTenants(ts []models.Tenant) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Subdomain < ts[j].Subdomain })
}

func sortUsers(us []models.User) {
	sort.Slice(us, func(i, j int) bool { return us[i].Email < us[j].Email })
}
