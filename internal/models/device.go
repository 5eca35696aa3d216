package models

import "time"

// Device 触发设备
// device_token 唯一，映射到 person/room 和升级策略
type Device struct {
	ID          string
	Vendor      string
	ModelFamily string
	MAC         *string
	AccountExt  *string
	DeviceToken string
	PersonID    *string
	RoomID      *string
	PolicyID    *string
	LastSeenAt  *time.Time
}

// Person 被保护人员
type Person struct {
	ID          string
	DisplayName string
	Role        *string
	PhoneMobile *string
	PhoneExt    *string
	Active      bool
}

// Room 房间
type Room struct {
	ID     string
	SiteID string
	Label  string
	Floor  *string
	Notes  *string
}

// Site 站点
type Site struct {
	ID   string
	Name string
}
