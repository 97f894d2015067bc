package asc

import (
	"context"
	"fmt"
	"net/url"
)

type App struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	BundleID      string `json:"bundleId"`
	SKU           string `json:"sku"`
	PrimaryLocale string `json:"primaryLocale"`
}

type AppStoreVersion struct {
	ID            string `json:"id"`
	VersionString string `json:"versionString"`
	AppStoreState string `json:"appStoreState"`
	Platform      string `json:"platform"`
}

type AppInfo struct {
	ID            string `json:"id"`
	AppStoreState string `json:"appStoreState"`
}

type InAppPurchase struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ProductID         string `json:"productId"`
	InAppPurchaseType string `json:"inAppPurchaseType"`
	State             string `json:"state"`
}

type SubscriptionGroup struct {
	ID            string `json:"id"`
	ReferenceName string `json:"referenceName"`
}

type Subscription struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProductID string `json:"productId"`
	State     string `json:"state"`
}

func decodeApp(r resource) (App, error) {
	return decodeAttrs(r, func(id string, a App) App { a.ID = id; return a })
}

func decodeVersion(r resource) (AppStoreVersion, error) {
	return decodeAttrs(r, func(id string, v AppStoreVersion) AppStoreVersion { v.ID = id; return v })
}

func decodeAppInfo(r resource) (AppInfo, error) {
	return decodeAttrs(r, func(id string, i AppInfo) AppInfo { i.ID = id; return i })
}

func decodeIAP(r resource) (InAppPurchase, error) {
	return decodeAttrs(r, func(id string, p InAppPurchase) InAppPurchase { p.ID = id; return p })
}

func decodeGroup(r resource) (SubscriptionGroup, error) {
	return decodeAttrs(r, func(id string, g SubscriptionGroup) SubscriptionGroup { g.ID = id; return g })
}

func decodeSubscription(r resource) (Subscription, error) {
	return decodeAttrs(r, func(id string, s Subscription) Subscription { s.ID = id; return s })
}

// ListApps returns one page of apps visible to the API key.
func (c *Client) ListApps(ctx context.Context, limit int, cursor string) (Page[App], error) {
	return getPage(ctx, c, "v1/apps", PageQuery(limit, cursor), decodeApp)
}

// Platforms lists the App Store platforms in resolution order.
var Platforms = []string{"IOS", "MAC_OS", "TV_OS", "VISION_OS"}

func versionsPath(appID string) string {
	return fmt.Sprintf("v1/apps/%s/appStoreVersions", url.PathEscape(appID))
}

// ListAppStoreVersions returns one page of the app's versions, newest first
// as the API orders them. An empty platform matches every platform.
func (c *Client) ListAppStoreVersions(ctx context.Context, appID, platform string, limit int, cursor string) (Page[AppStoreVersion], error) {
	q := PageQuery(limit, cursor)
	if platform != "" {
		q.Set("filter[platform]", platform)
	}
	return getPage(ctx, c, versionsPath(appID), q, decodeVersion)
}

// LatestAppStoreVersion returns the newest version on platform, or false when
// there is none.
func (c *Client) LatestAppStoreVersion(ctx context.Context, appID, platform string) (AppStoreVersion, bool, error) {
	page, err := c.ListAppStoreVersions(ctx, appID, platform, 1, "")
	if err != nil || len(page.Items) == 0 {
		return AppStoreVersion{}, false, err
	}
	return page.Items[0], true, nil
}

// LatestVersions returns the newest version of each platform in order,
// skipping platforms the app does not ship on.
func (c *Client) LatestVersions(ctx context.Context, appID string, platforms []string) ([]AppStoreVersion, error) {
	var out []AppStoreVersion
	for _, p := range platforms {
		v, ok, err := c.LatestAppStoreVersion(ctx, appID, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Client) ListAppInfos(ctx context.Context, appID string) ([]AppInfo, error) {
	return getAll(ctx, c, fmt.Sprintf("v1/apps/%s/appInfos", url.PathEscape(appID)), decodeAppInfo)
}

// PrimaryAppInfoID prefers the app info in PREPARE_FOR_SUBMISSION, falling
// back to the first one.
func (c *Client) PrimaryAppInfoID(ctx context.Context, appID string) (string, bool, error) {
	infos, err := c.ListAppInfos(ctx, appID)
	if err != nil || len(infos) == 0 {
		return "", false, err
	}
	for _, info := range infos {
		if info.AppStoreState == "PREPARE_FOR_SUBMISSION" {
			return info.ID, true, nil
		}
	}
	return infos[0].ID, true, nil
}

func (c *Client) ListInAppPurchases(ctx context.Context, appID string, limit int, cursor string) (Page[InAppPurchase], error) {
	return getPage(ctx, c, fmt.Sprintf("v1/apps/%s/inAppPurchasesV2", url.PathEscape(appID)), PageQuery(limit, cursor), decodeIAP)
}

func (c *Client) ListSubscriptionGroups(ctx context.Context, appID string, limit int, cursor string) (Page[SubscriptionGroup], error) {
	return getPage(ctx, c, fmt.Sprintf("v1/apps/%s/subscriptionGroups", url.PathEscape(appID)), PageQuery(limit, cursor), decodeGroup)
}

func (c *Client) ListSubscriptions(ctx context.Context, groupID string, limit int, cursor string) (Page[Subscription], error) {
	return getPage(ctx, c, fmt.Sprintf("v1/subscriptionGroups/%s/subscriptions", url.PathEscape(groupID)), PageQuery(limit, cursor), decodeSubscription)
}
