package registry

import "regexp"

var (
	// 申报单代码：8 个来自固定字母表的字母
	sdkRe = regexp.MustCompile(`^[AaCcEeFfHhKkMmNnPpRrTt]{8}$`)
	// 车架号：17 位字母数字
	vinRe = regexp.MustCompile(`^[A-Za-z0-9]{17}$`)
)

// IsValidSDK 校验申报单代码格式。
func IsValidSDK(sdk string) bool {
	return sdkRe.MatchString(sdk)
}

// IsValidVIN 校验车架号格式。
func IsValidVIN(vin string) bool {
	return vinRe.MatchString(vin)
}
