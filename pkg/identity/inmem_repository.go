package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/uniauth/identity-core/pkg/tenant"
)

type methodRecord struct {
	method    LoginMethod
	clusterID string
}

type clusterRecord struct {
	isPrimary bool
	// memberIDs keeps link order; the first entry is the method the cluster
	// was created from
	memberIDs []string
}

type appData struct {
	methods  map[string]*methodRecord
	clusters map[string]*clusterRecord
}

// InMemoryIdentityRepository implements Repository for a single user pool
// using in-memory storage. One mutex serializes every compound mutation, so
// each operation is trivially one atomic transaction.
type InMemoryIdentityRepository struct {
	mu   sync.RWMutex
	apps map[tenant.AppIdentifier]*appData
}

// NewInMemoryIdentityRepository creates a new in-memory identity repository
func NewInMemoryIdentityRepository() *InMemoryIdentityRepository {
	return &InMemoryIdentityRepository{
		apps: make(map[tenant.AppIdentifier]*appData),
	}
}

// readApp returns the app's data without mutating the repository; safe to
// call under the read lock
func (r *InMemoryIdentityRepository) readApp(app tenant.AppIdentifier) *appData {
	data, ok := r.apps[app.Normalize()]
	if !ok {
		return &appData{
			methods:  make(map[string]*methodRecord),
			clusters: make(map[string]*clusterRecord),
		}
	}
	return data
}

func (r *InMemoryIdentityRepository) appData(app tenant.AppIdentifier) *appData {
	app = app.Normalize()
	data, ok := r.apps[app]
	if !ok {
		data = &appData{
			methods:  make(map[string]*methodRecord),
			clusters: make(map[string]*clusterRecord),
		}
		r.apps[app] = data
	}
	return data
}

func (d *appData) buildUser(clusterID string) (User, bool) {
	cluster, ok := d.clusters[clusterID]
	if !ok {
		return User{}, false
	}
	user := User{
		ID:            clusterID,
		IsPrimaryUser: cluster.isPrimary,
	}
	for _, id := range cluster.memberIDs {
		rec := d.methods[id]
		user.LoginMethods = append(user.LoginMethods, rec.method)
		if user.TimeJoined == 0 || rec.method.TimeJoined < user.TimeJoined {
			user.TimeJoined = rec.method.TimeJoined
		}
	}
	return user, true
}

// CreateLoginMethod allocates a fresh id and creates a single-method cluster
func (r *InMemoryIdentityRepository) CreateLoginMethod(ctx context.Context, t tenant.TenantIdentifier, draft LoginMethodDraft) (LoginMethod, error) {
	if !draft.RecipeID.IsValid() {
		return LoginMethod{}, ErrInvalidDraft{Reason: "unknown recipe id: " + string(draft.RecipeID)}
	}
	info := AccountInfo{Email: draft.Email, PhoneNumber: draft.PhoneNumber, ThirdParty: draft.ThirdParty}.Normalize()
	if info.IsEmpty() {
		return LoginMethod{}, ErrInvalidDraft{Reason: "at least one identifier is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t = t.Normalize()
	data := r.appData(t.ToAppIdentifier())

	method := LoginMethod{
		RecipeUserID: uuid.NewString(),
		RecipeID:     draft.RecipeID,
		Email:        info.Email,
		PhoneNumber:  info.PhoneNumber,
		ThirdParty:   info.ThirdParty,
		Verified:     draft.Verified,
		TimeJoined:   draft.TimeJoined,
		TenantIDs:    []string{t.TenantID},
	}
	data.methods[method.RecipeUserID] = &methodRecord{method: method, clusterID: method.RecipeUserID}
	data.clusters[method.RecipeUserID] = &clusterRecord{memberIDs: []string{method.RecipeUserID}}
	return method, nil
}

// GetUserByRecipeUserID returns the cluster owning the id
func (r *InMemoryIdentityRepository) GetUserByRecipeUserID(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data := r.readApp(app)
	rec, ok := data.methods[recipeUserID]
	if !ok {
		// the id may address a cluster directly
		if user, ok := data.buildUser(recipeUserID); ok {
			return user, nil
		}
		return User{}, ErrUserNotFound
	}
	user, _ := data.buildUser(rec.clusterID)
	return user, nil
}

func methodMatchesProbe(m LoginMethod, recipe RecipeID, info AccountInfo) bool {
	if m.RecipeID != recipe {
		return false
	}
	switch recipe {
	case RecipeEmailPassword:
		return info.Email != "" && m.Email == info.Email
	case RecipePasswordless:
		if info.Email != "" {
			return m.Email == info.Email
		}
		if info.PhoneNumber != "" {
			return m.PhoneNumber == info.PhoneNumber
		}
		return false
	case RecipeThirdParty:
		return info.ThirdParty != nil && m.ThirdParty != nil &&
			m.ThirdParty.ID == info.ThirdParty.ID &&
			m.ThirdParty.UserID == info.ThirdParty.UserID
	}
	return false
}

// GetUserByAccountInfo is the recipe-specific uniqueness probe
func (r *InMemoryIdentityRepository) GetUserByAccountInfo(ctx context.Context, t tenant.TenantIdentifier, recipe RecipeID, info AccountInfo) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t = t.Normalize()
	info = info.Normalize()
	data := r.readApp(t.ToAppIdentifier())
	for _, rec := range data.methods {
		if !rec.method.HasTenant(t.TenantID) {
			continue
		}
		if methodMatchesProbe(rec.method, recipe, info) {
			user, _ := data.buildUser(rec.clusterID)
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func methodSharesIdentifier(m LoginMethod, info AccountInfo) bool {
	if info.Email != "" && m.Email == info.Email {
		return true
	}
	if info.PhoneNumber != "" && m.PhoneNumber == info.PhoneNumber {
		return true
	}
	if info.ThirdParty != nil && m.ThirdParty != nil &&
		m.ThirdParty.ID == info.ThirdParty.ID && m.ThirdParty.UserID == info.ThirdParty.UserID {
		return true
	}
	return false
}

// ListPrimaryUsersByAccountInfo returns primary clusters claiming any of the
// given identifiers
func (r *InMemoryIdentityRepository) ListPrimaryUsersByAccountInfo(ctx context.Context, app tenant.AppIdentifier, info AccountInfo) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info = info.Normalize()
	data := r.readApp(app)
	seen := make(map[string]bool)
	var users []User
	for _, rec := range data.methods {
		cluster := data.clusters[rec.clusterID]
		if cluster == nil || !cluster.isPrimary || seen[rec.clusterID] {
			continue
		}
		if methodSharesIdentifier(rec.method, info) {
			seen[rec.clusterID] = true
			user, _ := data.buildUser(rec.clusterID)
			users = append(users, user)
		}
	}
	return users, nil
}

// DoesUserIDExist reports whether any cluster owns the id
func (r *InMemoryIdentityRepository) DoesUserIDExist(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data := r.readApp(app)
	if _, ok := data.methods[userID]; ok {
		return true, nil
	}
	_, ok := data.clusters[userID]
	return ok, nil
}

// checkConflictGuard runs the guard for every other primary cluster claiming
// one of the given methods' identifiers. Runs under the repository mutex, so
// the probe and the mutation it precedes are one atomic step.
func (d *appData) checkConflictGuard(methods []LoginMethod, guard ConflictGuard, exclude ...string) error {
	if guard == nil {
		return nil
	}
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	for _, method := range methods {
		info := method.AccountInfo()
		seen := make(map[string]bool)
		for _, rec := range d.methods {
			if excluded[rec.clusterID] || seen[rec.clusterID] {
				continue
			}
			cluster := d.clusters[rec.clusterID]
			if cluster == nil || !cluster.isPrimary {
				continue
			}
			if methodSharesIdentifier(rec.method, info) {
				seen[rec.clusterID] = true
				claimant, _ := d.buildUser(rec.clusterID)
				if !guard(method, claimant) {
					return ErrAccountInfoConflict{PrimaryUserID: rec.clusterID}
				}
			}
		}
	}
	return nil
}

// MakePrimary promotes a single-method non-primary cluster
func (r *InMemoryIdentityRepository) MakePrimary(ctx context.Context, app tenant.AppIdentifier, recipeUserID string, guard ConflictGuard) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.readApp(app)
	rec, ok := data.methods[recipeUserID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	cluster := data.clusters[rec.clusterID]
	if cluster.isPrimary || rec.clusterID != recipeUserID {
		return User{}, ErrAlreadyPrimary{RecipeUserID: recipeUserID, PrimaryUserID: rec.clusterID}
	}
	if err := data.checkConflictGuard([]LoginMethod{rec.method}, guard, rec.clusterID); err != nil {
		return User{}, err
	}
	cluster.isPrimary = true
	user, _ := data.buildUser(rec.clusterID)
	return user, nil
}

// LinkClusters atomically re-parents the source cluster's methods into the
// target primary cluster
func (r *InMemoryIdentityRepository) LinkClusters(ctx context.Context, app tenant.AppIdentifier, sourceClusterID, targetPrimaryID string, guard ConflictGuard) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.appData(app)
	source, ok := data.clusters[sourceClusterID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	target, ok := data.clusters[targetPrimaryID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if !target.isPrimary {
		return User{}, ErrNotPrimary{UserID: targetPrimaryID}
	}
	if source.isPrimary && len(source.memberIDs) > 1 {
		return User{}, ErrSourceHasMultipleMethods{UserID: sourceClusterID, Methods: len(source.memberIDs)}
	}

	sourceMethods := make([]LoginMethod, 0, len(source.memberIDs))
	for _, id := range source.memberIDs {
		sourceMethods = append(sourceMethods, data.methods[id].method)
	}
	if err := data.checkConflictGuard(sourceMethods, guard, sourceClusterID, targetPrimaryID); err != nil {
		return User{}, err
	}

	// re-parent in place; the source cluster's address is absorbed, its
	// method rows are never deleted
	for _, id := range source.memberIDs {
		data.methods[id].clusterID = targetPrimaryID
		target.memberIDs = append(target.memberIDs, id)
	}
	delete(data.clusters, sourceClusterID)

	user, _ := data.buildUser(targetPrimaryID)
	return user, nil
}

// successorID picks the new cluster address among the remaining members:
// earliest timeJoined, ties broken by smallest recipeUserId
func (d *appData) successorID(memberIDs []string) string {
	best := ""
	var bestTime int64
	for _, id := range memberIDs {
		m := d.methods[id].method
		if best == "" || m.TimeJoined < bestTime || (m.TimeJoined == bestTime && id < best) {
			best = id
			bestTime = m.TimeJoined
		}
	}
	return best
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func (d *appData) detachMethod(recipeUserID string) (rec *methodRecord, cluster *clusterRecord, wasClusterID bool, ok bool) {
	rec, ok = d.methods[recipeUserID]
	if !ok {
		return nil, nil, false, false
	}
	cluster = d.clusters[rec.clusterID]
	wasClusterID = rec.clusterID == recipeUserID
	cluster.memberIDs = removeString(cluster.memberIDs, recipeUserID)
	if len(cluster.memberIDs) == 0 {
		delete(d.clusters, rec.clusterID)
		return rec, nil, wasClusterID, true
	}
	if wasClusterID {
		// rekey the surviving cluster under its successor address
		next := d.successorID(cluster.memberIDs)
		delete(d.clusters, recipeUserID)
		d.clusters[next] = cluster
		for _, id := range cluster.memberIDs {
			d.methods[id].clusterID = next
		}
	}
	return rec, cluster, wasClusterID, true
}

func (d *appData) clusterIDOf(cluster *clusterRecord) string {
	if cluster == nil || len(cluster.memberIDs) == 0 {
		return ""
	}
	return d.methods[cluster.memberIDs[0]].clusterID
}

// UnlinkMethod detaches one method into its own non-primary cluster
func (r *InMemoryIdentityRepository) UnlinkMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (UnlinkOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.appData(app)
	rec, remaining, wasClusterID, ok := data.detachMethod(recipeUserID)
	if !ok {
		return UnlinkOutcome{}, ErrUserNotFound
	}

	rec.clusterID = recipeUserID
	data.clusters[recipeUserID] = &clusterRecord{memberIDs: []string{recipeUserID}}

	outcome := UnlinkOutcome{WasClusterID: wasClusterID}
	outcome.DetachedUser, _ = data.buildUser(recipeUserID)
	if remaining != nil {
		outcome.HasRemaining = true
		outcome.RemainingUser, _ = data.buildUser(data.clusterIDOf(remaining))
	}
	return outcome, nil
}

// RemoveLoginMethod deletes a single method outright
func (r *InMemoryIdentityRepository) RemoveLoginMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (RemoveOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.appData(app)
	_, remaining, _, ok := data.detachMethod(recipeUserID)
	if !ok {
		return RemoveOutcome{Existed: false}, nil
	}
	delete(data.methods, recipeUserID)

	outcome := RemoveOutcome{Existed: true}
	if remaining != nil {
		outcome.HasRemaining = true
		outcome.RemainingUser, _ = data.buildUser(data.clusterIDOf(remaining))
	}
	return outcome, nil
}

// DeleteCluster deletes the cluster addressed by the id with all methods
func (r *InMemoryIdentityRepository) DeleteCluster(ctx context.Context, app tenant.AppIdentifier, clusterID string) (DeleteOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.appData(app)
	cluster, ok := data.clusters[clusterID]
	if !ok {
		return DeleteOutcome{Existed: false}, nil
	}
	outcome := DeleteOutcome{Existed: true}
	for _, id := range cluster.memberIDs {
		outcome.RecipeUserIDs = append(outcome.RecipeUserIDs, id)
		delete(data.methods, id)
	}
	delete(data.clusters, clusterID)
	return outcome, nil
}

func matchesAnyTerm(value string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	value = strings.ToLower(value)
	for _, term := range terms {
		if strings.Contains(value, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func userMatchesSearch(u User, search SearchFilter) bool {
	if len(search.Emails) > 0 {
		found := false
		for _, email := range u.Emails() {
			if matchesAnyTerm(email, search.Emails) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(search.Phones) > 0 {
		found := false
		for _, phone := range u.PhoneNumbers() {
			if matchesAnyTerm(phone, search.Phones) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(search.Providers) > 0 {
		found := false
		for _, tp := range u.ThirdParties() {
			if matchesAnyTerm(tp.ID, search.Providers) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func userMatchesRecipes(u User, recipes []RecipeID) bool {
	if len(recipes) == 0 {
		return true
	}
	for _, recipe := range recipes {
		if u.HasRecipe(recipe) {
			return true
		}
	}
	return false
}

func userInTenant(u User, tenantID string) bool {
	for _, m := range u.LoginMethods {
		if m.HasTenant(tenantID) {
			return true
		}
	}
	return false
}

func (r *InMemoryIdentityRepository) collectUsers(t tenant.TenantIdentifier, allTenants bool, recipes []RecipeID, search SearchFilter) []User {
	t = t.Normalize()
	data := r.readApp(t.ToAppIdentifier())
	var users []User
	for clusterID := range data.clusters {
		user, _ := data.buildUser(clusterID)
		if !allTenants && !userInTenant(user, t.TenantID) {
			continue
		}
		if !userMatchesRecipes(user, recipes) {
			continue
		}
		if !userMatchesSearch(user, search) {
			continue
		}
		users = append(users, user)
	}
	return users
}

// ListUsers fetches one ordered page of clusters
func (r *InMemoryIdentityRepository) ListUsers(ctx context.Context, params ListParams) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.collectUsers(params.Tenant, params.AllTenants, params.Recipes, params.Search)

	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if params.Ascending {
			if a.TimeJoined != b.TimeJoined {
				return a.TimeJoined < b.TimeJoined
			}
			return a.ID < b.ID
		}
		if a.TimeJoined != b.TimeJoined {
			return a.TimeJoined > b.TimeJoined
		}
		return a.ID > b.ID
	})

	if params.Watermark != nil {
		w := *params.Watermark
		filtered := users[:0]
		for _, u := range users {
			if params.Ascending {
				if u.TimeJoined > w.TimeJoined || (u.TimeJoined == w.TimeJoined && u.ID > w.RecipeUserID) {
					filtered = append(filtered, u)
				}
			} else {
				if u.TimeJoined < w.TimeJoined || (u.TimeJoined == w.TimeJoined && u.ID < w.RecipeUserID) {
					filtered = append(filtered, u)
				}
			}
		}
		users = filtered
	}

	if params.Limit > 0 && len(users) > params.Limit {
		users = users[:params.Limit]
	}
	return users, nil
}

// CountUsers counts clusters under the same filters
func (r *InMemoryIdentityRepository) CountUsers(ctx context.Context, params CountParams) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.collectUsers(params.Tenant, params.AllTenants, params.Recipes, params.Search)
	return int64(len(users)), nil
}
