package provision

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/moat-sh/moat/internal/errors"
)

// defaultMemoryMB is the guest memory each domain starts with. The
// retry ladder only ever lowers it.
const defaultMemoryMB = 1024

// VMSpec describes one virtual machine to provision.
type VMSpec struct {
	Name     string
	Password string // plaintext; hashed before it reaches any file
	OS       string // informational, the base image is fixed
}

// Target identifies the hypervisor host terraform connects to.
type Target struct {
	Host     string
	User     string
	Password string
}

var nonUserChars = regexp.MustCompile(`[^a-z0-9-]`)

// linuxUser derives a safe login name from a VM name: lowercase,
// alphanumerics and dashes only, falling back to ubuntu.
func linuxUser(vmName string) string {
	u := nonUserChars.ReplaceAllString(strings.ToLower(vmName), "")
	if u == "" {
		return "ubuntu"
	}
	return u
}

// hashPassword produces a sha512-crypt hash suitable for a cloud-init
// passwd field.
func hashPassword(plain string) (string, error) {
	return sha512_crypt.New().Generate([]byte(plain), nil)
}

// libvirtURI builds the qemu+ssh connection URI with the password
// percent-encoded into the userinfo part.
func libvirtURI(t Target) string {
	u := url.URL{
		Scheme: "qemu+ssh",
		User:   url.UserPassword(t.User, t.Password),
		Host:   t.Host,
		Path:   "/system",
	}
	return u.String()
}

// GenerateConfig writes main.tf, terraform.tfvars and cloud_init.cfg
// into dir for the given VMs. Cloud-init ISO names carry a timestamp
// suffix so re-provisioning never collides with ISOs from an earlier
// run that libvirt still holds.
func GenerateConfig(dir string, vms []VMSpec, target Target) error {
	if len(vms) == 0 {
		return errors.New(errors.ErrProvision,
			"No VMs to provision", "Add at least one VM spec before generating the configuration.")
	}
	if target.Host == "" || target.Password == "" {
		return errors.New(errors.ErrProvision,
			"Hypervisor host and SSH password are required",
			"Set the target host credentials in the configuration.")
	}
	if target.User == "" {
		target.User = "ubuntu"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision,
			"Failed to create terraform directory "+dir, "Check directory permissions.")
	}

	ms := fmt.Sprintf("%d", time.Now().UnixMilli())
	suffix := ms[len(ms)-8:]

	var b strings.Builder
	b.WriteString(`terraform {
  required_providers {
    libvirt = {
      source  = "dmacvicar/libvirt"
      version = "0.7.6"
    }
  }
}

variable "libvirt_uri" {
  description = "URI of the libvirt daemon on the hypervisor host"
  type        = string
  default     = "qemu:///system"
}

provider "libvirt" {
  uri = var.libvirt_uri
}

resource "libvirt_volume" "ubuntu_base" {
  name   = "ubuntu-base.qcow2"
  pool   = "default"
  source = "https://cloud-images.ubuntu.com/jammy/current/jammy-server-cloudimg-amd64.img"
  format = "qcow2"
}
`)

	for _, vm := range vms {
		hash, err := hashPassword(vm.Password)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrProvision,
				"Failed to hash password for VM "+vm.Name, "")
		}
		b.WriteString(fmt.Sprintf(`
resource "libvirt_volume" "%[1]s_disk" {
  name           = "%[1]s.qcow2"
  pool           = "default"
  base_volume_id = libvirt_volume.ubuntu_base.id
  format         = "qcow2"
}

resource "libvirt_cloudinit_disk" "%[1]s_init" {
  name = "cloudinit-%[1]s-%[2]s.iso"
  pool = "default"

  user_data = templatefile(
    "${path.module}/cloud_init.cfg",
    {
      hostname    = "%[1]s"
      user_name   = "%[3]s"
      user_passwd = "%[4]s"
    }
  )
}

resource "libvirt_domain" "%[1]s" {
  name       = "%[1]s"
  memory     = %[5]d
  vcpu       = 1
  machine    = "pc"
  arch       = "x86_64"
  type       = "qemu"
  qemu_agent = true

  disk {
    volume_id = libvirt_volume.%[1]s_disk.id
  }

  network_interface {
    network_name   = "default"
    wait_for_lease = true
  }

  cloudinit = libvirt_cloudinit_disk.%[1]s_init.id

  depends_on = [libvirt_volume.ubuntu_base]
}
`, vm.Name, suffix, linuxUser(vm.Name), hash, defaultMemoryMB))
	}

	for _, vm := range vms {
		b.WriteString(fmt.Sprintf(`
output "%[1]s_ip" {
  value       = libvirt_domain.%[1]s.network_interface[0].addresses[0]
  description = "IP address of %[1]s"
}
`, vm.Name))
	}

	if err := os.WriteFile(filepath.Join(dir, "main.tf"), []byte(b.String()), 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision, "Failed to write main.tf", "")
	}

	tfvars := fmt.Sprintf("libvirt_uri = %q\n", libvirtURI(target))
	if err := os.WriteFile(filepath.Join(dir, "terraform.tfvars"), []byte(tfvars), 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision, "Failed to write terraform.tfvars", "")
	}

	if err := os.WriteFile(filepath.Join(dir, "cloud_init.cfg"), []byte(cloudInitTemplate), 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision, "Failed to write cloud_init.cfg", "")
	}
	return nil
}

// cloudInitTemplate is rendered by terraform's templatefile per VM.
const cloudInitTemplate = `#cloud-config
hostname: ${hostname}
manage_etc_hosts: true
users:
  - name: ${user_name}
    sudo: ALL=(ALL) NOPASSWD:ALL
    groups: users, admin
    shell: /bin/bash
    lock_passwd: false
    passwd: ${user_passwd}
ssh_pwauth: true
disable_root: false
package_update: false
`
