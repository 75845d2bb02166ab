package flow

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/kabelnet/ispbot/internal/models"
)

const (
	stepWiFiNameSelect     models.StepID = "wifi_name.select_device"
	stepWiFiNameAwait      models.StepID = "wifi_name.await_name"
	stepWiFiPasswordSelect models.StepID = "wifi_password.select_device"
	stepWiFiPasswordAwait  models.StepID = "wifi_password.await_password"
	stepRebootSelect       models.StepID = "reboot.select_device"
	stepRebootConfirm      models.StepID = "reboot.confirm"
)

// WiFi credential limits (802.11 SSID octets, WPA2 passphrase).
const (
	MaxSSIDLength       = 32
	MinWiFiPasswordLen  = 8
	MaxWiFiPasswordLen  = 63
	wifiFlowIdleTimeout = 5 * time.Minute
)

func wifiNameFlow() Flow {
	awaitName := func(d models.Device) Outcome {
		return Outcome{
			Next:  stepWiFiNameAwait,
			Reply: fmt.Sprintf("Kirim nama WiFi baru untuk *%s* (maksimal %d karakter).", deviceLabels([]models.Device{d})[0], MaxSSIDLength),
		}
	}
	return Flow{
		ID:          models.FlowChangeWiFiName,
		Title:       "Ganti Nama WiFi",
		IdleTimeout: wifiFlowIdleTimeout,
		EntrySteps:  []models.StepID{stepWiFiNameSelect, stepWiFiNameAwait},
		Start:       deviceEntry(stepWiFiNameSelect, awaitName),
		Steps: []Step{
			{
				ID:     stepWiFiNameSelect,
				Next:   []models.StepID{stepWiFiNameAwait},
				Handle: selectDevice(awaitName),
			},
			{
				ID:        stepWiFiNameAwait,
				Protected: true,
				Validate:  validateSSID,
				Handle: func(ctx context.Context, in StepInput) (Outcome, error) {
					return Outcome{Action: &ActionRequest{
						DeviceID: in.Session.Get(models.DataKeyDeviceID),
						Name:     models.ActionSetSSID,
						Params:   map[string]string{"ssid": in.Raw},
					}}, nil
				},
			},
		},
		Pending: func(req ActionRequest, s models.Session) string {
			return "⏳ Sedang mengubah nama WiFi, mohon tunggu..."
		},
		Succeeded: func(req ActionRequest, s models.Session, res models.ActionResult) string {
			return withNote(fmt.Sprintf("✅ Nama WiFi pada *%s* berhasil diubah menjadi *%s*.\n\n"+
				"⚠️ Semua perangkat yang terhubung akan terputus. Sambungkan kembali ke nama WiFi yang baru.",
				deviceName(s), req.Params["ssid"]), res)
		},
		Failed: failedReply,
	}
}

func wifiPasswordFlow() Flow {
	awaitPassword := func(d models.Device) Outcome {
		return Outcome{
			Next: stepWiFiPasswordAwait,
			Reply: fmt.Sprintf("Kirim password WiFi baru untuk *%s* (%d-%d karakter).",
				deviceLabels([]models.Device{d})[0], MinWiFiPasswordLen, MaxWiFiPasswordLen),
		}
	}
	return Flow{
		ID:          models.FlowChangeWiFiPassword,
		Title:       "Ganti Password WiFi",
		IdleTimeout: wifiFlowIdleTimeout,
		EntrySteps:  []models.StepID{stepWiFiPasswordSelect, stepWiFiPasswordAwait},
		Start:       deviceEntry(stepWiFiPasswordSelect, awaitPassword),
		Steps: []Step{
			{
				ID:     stepWiFiPasswordSelect,
				Next:   []models.StepID{stepWiFiPasswordAwait},
				Handle: selectDevice(awaitPassword),
			},
			{
				ID:        stepWiFiPasswordAwait,
				Protected: true,
				Validate:  validateWiFiPassword,
				Handle: func(ctx context.Context, in StepInput) (Outcome, error) {
					return Outcome{Action: &ActionRequest{
						DeviceID: in.Session.Get(models.DataKeyDeviceID),
						Name:     models.ActionSetWiFiPassword,
						Params:   map[string]string{"password": in.Raw},
					}}, nil
				},
			},
		},
		Pending: func(req ActionRequest, s models.Session) string {
			return "⏳ Sedang mengubah password WiFi, mohon tunggu..."
		},
		Succeeded: func(req ActionRequest, s models.Session, res models.ActionResult) string {
			return withNote(fmt.Sprintf("✅ Password WiFi pada *%s* berhasil diubah.\nPassword baru: *%s*\n\n"+
				"⚠️ Semua perangkat yang terhubung akan terputus. Sambungkan kembali menggunakan password baru.",
				deviceName(s), req.Params["password"]), res)
		},
		Failed: failedReply,
	}
}

func rebootFlow() Flow {
	reboot := func(d models.Device) Outcome {
		return Outcome{Action: &ActionRequest{DeviceID: d.ID, Name: models.ActionReboot}}
	}
	return Flow{
		ID:          models.FlowRebootDevice,
		Title:       "Restart Router",
		IdleTimeout: wifiFlowIdleTimeout,
		Confirm:     true,
		ConfirmStep: stepRebootConfirm,
		EntrySteps:  []models.StepID{stepRebootSelect},
		Start:       deviceEntry(stepRebootSelect, reboot),
		Steps: []Step{
			{
				ID:     stepRebootSelect,
				Handle: selectDevice(reboot),
			},
		},
		ConfirmPrompt: func(req ActionRequest, s models.Session) string {
			return fmt.Sprintf("Router *%s* akan di-restart dan internet akan terputus sekitar 2-5 menit.\n"+
				"Lanjutkan? Balas *ya* atau *tidak*.", deviceName(s))
		},
		Pending: func(req ActionRequest, s models.Session) string {
			return "⏳ Mengirim perintah restart..."
		},
		Succeeded: func(req ActionRequest, s models.Session, res models.ActionResult) string {
			return withNote(fmt.Sprintf("✅ Perintah restart terkirim ke *%s*. Internet akan kembali dalam beberapa menit.",
				deviceName(s)), res)
		},
		Failed: failedReply,
	}
}

func validateSSID(in StepInput) error {
	v := in.Raw
	switch {
	case v == "":
		return invalid("Nama WiFi tidak boleh kosong.")
	case len(v) > MaxSSIDLength:
		return invalid("Nama WiFi maksimal %d karakter, yang Anda kirim %d karakter. Silakan kirim nama yang lebih pendek.",
			MaxSSIDLength, len(v))
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return invalid("Nama WiFi tidak boleh mengandung baris baru atau karakter kontrol.")
		}
	}
	return nil
}

func validateWiFiPassword(in StepInput) error {
	v := in.Raw
	switch {
	case len(v) < MinWiFiPasswordLen:
		return invalid("Password WiFi minimal %d karakter.", MinWiFiPasswordLen)
	case len(v) > MaxWiFiPasswordLen:
		return invalid("Password WiFi maksimal %d karakter.", MaxWiFiPasswordLen)
	}
	for _, r := range v {
		if r < 0x20 || r > 0x7e {
			return invalid("Password WiFi hanya boleh berisi huruf, angka, spasi, dan simbol standar (tanpa emoji).")
		}
	}
	return nil
}
