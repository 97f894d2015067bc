package asc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/valpere/storetran/internal/apierr"
	"github.com/valpere/storetran/internal/fields"
	"github.com/valpere/storetran/internal/locale"
)

// Kind describes one localization resource family and where it hangs off
// its parent.
type Kind struct {
	Name string
	// Type is the JSON:API resource type.
	Type string
	// Collection is the path used for POST; items live at Collection/{id}.
	Collection string
	// ParentList is a format string taking the parent id.
	ParentList   string
	Relationship string
	ParentType   string
	// Attributes maps logical field names to wire attribute names.
	Attributes map[string]string
}

var (
	VersionLocalizations = Kind{
		Name:         "version",
		Type:         "appStoreVersionLocalizations",
		Collection:   "v1/appStoreVersionLocalizations",
		ParentList:   "v1/appStoreVersions/%s/appStoreVersionLocalizations",
		Relationship: "appStoreVersion",
		ParentType:   "appStoreVersions",
		Attributes: map[string]string{
			fields.Description:     "description",
			fields.Keywords:        "keywords",
			fields.PromotionalText: "promotionalText",
			fields.WhatsNew:        "whatsNew",
		},
	}
	AppInfoLocalizations = Kind{
		Name:         "app-info",
		Type:         "appInfoLocalizations",
		Collection:   "v1/appInfoLocalizations",
		ParentList:   "v1/appInfos/%s/appInfoLocalizations",
		Relationship: "appInfo",
		ParentType:   "appInfos",
		Attributes: map[string]string{
			fields.Name:     "name",
			fields.Subtitle: "subtitle",
		},
	}
	IAPLocalizations = Kind{
		Name:         "iap",
		Type:         "inAppPurchaseLocalizations",
		Collection:   "v1/inAppPurchaseLocalizations",
		ParentList:   "v2/inAppPurchases/%s/inAppPurchaseLocalizations",
		Relationship: "inAppPurchaseV2",
		ParentType:   "inAppPurchases",
		Attributes: map[string]string{
			fields.IAPName:        "name",
			fields.IAPDescription: "description",
		},
	}
	SubscriptionLocalizations = Kind{
		Name:         "subscription",
		Type:         "subscriptionLocalizations",
		Collection:   "v1/subscriptionLocalizations",
		ParentList:   "v1/subscriptions/%s/subscriptionLocalizations",
		Relationship: "subscription",
		ParentType:   "subscriptions",
		Attributes: map[string]string{
			fields.SubscriptionName:        "name",
			fields.SubscriptionDescription: "description",
		},
	}
	SubscriptionGroupLocalizations = Kind{
		Name:         "subscription-group",
		Type:         "subscriptionGroupLocalizations",
		Collection:   "v1/subscriptionGroupLocalizations",
		ParentList:   "v1/subscriptionGroups/%s/subscriptionGroupLocalizations",
		Relationship: "subscriptionGroup",
		ParentType:   "subscriptionGroups",
		Attributes: map[string]string{
			fields.SubscriptionGroupName:          "name",
			fields.SubscriptionGroupCustomAppName: "customAppName",
		},
	}
)

// Kinds lists every localization kind by name.
func Kinds() map[string]Kind {
	return map[string]Kind{
		VersionLocalizations.Name:           VersionLocalizations,
		AppInfoLocalizations.Name:           AppInfoLocalizations,
		IAPLocalizations.Name:               IAPLocalizations,
		SubscriptionLocalizations.Name:      SubscriptionLocalizations,
		SubscriptionGroupLocalizations.Name: SubscriptionGroupLocalizations,
	}
}

// Fields returns the logical field names of k in a stable order.
func (k Kind) Fields() []string {
	out := make([]string, 0, len(k.Attributes))
	for f := range k.Attributes {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// LocalizationRecord is the server's view of one localization. Fields is
// keyed by logical field name. Records are never cached across operations.
type LocalizationRecord struct {
	ID     string            `json:"id"`
	Locale string            `json:"locale"`
	Fields map[string]string `json:"fields"`
}

func (k Kind) decode(r resource) (LocalizationRecord, error) {
	var attrs map[string]any
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return LocalizationRecord{}, err
		}
	}
	rec := LocalizationRecord{ID: r.ID, Fields: make(map[string]string, len(k.Attributes))}
	if l, ok := attrs["locale"].(string); ok {
		rec.Locale = l
	}
	for field, attr := range k.Attributes {
		if v, ok := attrs[attr].(string); ok {
			rec.Fields[field] = v
		}
	}
	return rec, nil
}

// attributes converts logical values to wire attributes, dropping unknown
// fields and empty values.
func (k Kind) attributes(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for field, v := range values {
		attr, ok := k.Attributes[field]
		if !ok || v == "" {
			continue
		}
		out[attr] = v
	}
	return out
}

type writeResource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id,omitempty"`
	Attributes    map[string]string       `json:"attributes"`
	Relationships map[string]relationship `json:"relationships,omitempty"`
}

type writeDocument struct {
	Data writeResource `json:"data"`
}

// ListLocalizations returns every localization of parentID.
func (c *Client) ListLocalizations(ctx context.Context, k Kind, parentID string) ([]LocalizationRecord, error) {
	return getAll(ctx, c, fmt.Sprintf(k.ParentList, parentID), k.decode)
}

func (c *Client) GetLocalization(ctx context.Context, k Kind, id string) (LocalizationRecord, error) {
	var doc singleDocument
	if err := c.do(ctx, "GET", k.Collection+"/"+id, nil, nil, &doc); err != nil {
		return LocalizationRecord{}, err
	}
	rec, err := k.decode(doc.Data)
	if err != nil {
		return LocalizationRecord{}, &apierr.FormatError{Service: serviceName, Detail: "decode " + k.Type, Err: err}
	}
	return rec, nil
}

// CreateLocalization creates the locale under parentID. If the server
// reports a conflict once retries are exhausted, the localization list is
// re-read, the locale is matched (exactly, else by unambiguous language
// root) and updated instead.
func (c *Client) CreateLocalization(ctx context.Context, k Kind, parentID, code string, values map[string]string) (LocalizationRecord, error) {
	attrs := k.attributes(values)
	attrs["locale"] = code
	doc := writeDocument{Data: writeResource{
		Type:       k.Type,
		Attributes: attrs,
		Relationships: map[string]relationship{
			k.Relationship: {Data: &resourceRef{Type: k.ParentType, ID: parentID}},
		},
	}}

	var created singleDocument
	err := c.do(ctx, "POST", k.Collection, nil, doc, &created)
	if err == nil {
		rec, derr := k.decode(created.Data)
		if derr != nil {
			return LocalizationRecord{}, &apierr.FormatError{Service: serviceName, Detail: "decode " + k.Type, Err: derr}
		}
		return rec, nil
	}
	if !apierr.IsConflict(err) {
		return LocalizationRecord{}, err
	}

	existing, lerr := c.ListLocalizations(ctx, k, parentID)
	if lerr != nil {
		return LocalizationRecord{}, fmt.Errorf("%w (refresh after conflict: %v)", err, lerr)
	}
	byCode := make(map[string]LocalizationRecord, len(existing))
	codes := make([]string, 0, len(existing))
	for _, rec := range existing {
		byCode[rec.Locale] = rec
		codes = append(codes, rec.Locale)
	}
	match, ok := locale.Match(code, codes)
	if !ok {
		return LocalizationRecord{}, err
	}
	c.log.Info().Str("kind", k.Name).Str("locale", code).Str("matched", match).
		Msg("create conflicted, updating existing localization")
	return c.UpdateLocalization(ctx, k, byCode[match].ID, values)
}

// UpdateLocalization patches only the attributes that differ from the
// server's current state, and skips the PATCH when nothing differs. If the
// current state cannot be read, every supplied value is sent.
func (c *Client) UpdateLocalization(ctx context.Context, k Kind, id string, values map[string]string) (LocalizationRecord, error) {
	current, err := c.GetLocalization(ctx, k, id)
	changed := values
	if err == nil {
		changed = make(map[string]string, len(values))
		for field, v := range values {
			if _, known := k.Attributes[field]; known && v != "" && v != current.Fields[field] {
				changed[field] = v
			}
		}
		if len(changed) == 0 {
			return current, nil
		}
	} else {
		c.log.Debug().Err(err).Str("id", id).Msg("read before update failed, sending all fields")
	}

	doc := writeDocument{Data: writeResource{
		Type:       k.Type,
		ID:         id,
		Attributes: k.attributes(changed),
	}}
	var updated singleDocument
	if err := c.do(ctx, "PATCH", k.Collection+"/"+id, nil, doc, &updated); err != nil {
		return LocalizationRecord{}, err
	}
	rec, derr := k.decode(updated.Data)
	if derr != nil {
		return LocalizationRecord{}, &apierr.FormatError{Service: serviceName, Detail: "decode " + k.Type, Err: derr}
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

// SaveLocalization updates the locale when it already exists under parentID
// and creates it otherwise.
func (c *Client) SaveLocalization(ctx context.Context, k Kind, parentID, code string, values map[string]string) (LocalizationRecord, error) {
	existing, err := c.ListLocalizations(ctx, k, parentID)
	if err != nil {
		return LocalizationRecord{}, err
	}
	for _, rec := range existing {
		if rec.Locale == code {
			return c.UpdateLocalization(ctx, k, rec.ID, values)
		}
	}
	return c.CreateLocalization(ctx, k, parentID, code, values)
}
