package provision

// libvirtSetupScript brings an Ubuntu host to a known-good libvirt
// state: packages, security driver, storage pool, and the default NAT
// network. If the default network cannot start (for example when the
// uplink interface already owns the bridge), it defines an isolated
// fallback network instead and prints the fallback marker so the
// orchestrator can retarget the generated terraform config.
const libvirtSetupScript = `#!/bin/bash
set -e
echo "[SETUP] starting libvirt host setup"

echo "[SETUP] installing libvirt packages"
sudo apt-get update -qq > /dev/null 2>&1
sudo apt-get install -y libvirt-daemon libvirt-daemon-system libvirt-clients qemu-system-x86 qemu-kvm > /dev/null 2>&1 || true
sudo apt-get install -y qemu-utils > /dev/null 2>&1 || true
sudo apt-get install -y dnsmasq > /dev/null 2>&1 || true

# AppArmor denies qemu access to pool volumes under the default driver.
echo "[SETUP] disabling libvirt security driver"
if [ -f /etc/libvirt/qemu.conf ]; then
    sudo cp -n /etc/libvirt/qemu.conf /etc/libvirt/qemu.conf.bak 2>/dev/null || true
    sudo sed -i 's/^\s*#\?\s*security_driver\s*=\s*.*/security_driver = "none"/g' /etc/libvirt/qemu.conf
    if ! grep -q '^\s*security_driver\s*=\s*"none"' /etc/libvirt/qemu.conf; then
        echo 'security_driver = "none"' | sudo tee -a /etc/libvirt/qemu.conf >/dev/null
    fi
fi

echo "[SETUP] starting libvirtd"
sudo systemctl start libvirtd
sudo systemctl enable libvirtd
sleep 2
sudo ln -sf /run/libvirt /var/run/libvirt

echo "[SETUP] configuring storage pool"
sudo mkdir -p /var/lib/libvirt/images
sudo virsh -c qemu:///system pool-define-as default dir - - - - "/var/lib/libvirt/images" 2>/dev/null || true
sudo virsh -c qemu:///system pool-start default 2>/dev/null || true
sudo virsh -c qemu:///system pool-autostart default 2>/dev/null || true

# Rebuild the default network from scratch so a half-configured bridge
# from an earlier run cannot block net-start.
echo "[SETUP] rebuilding default network"
sudo virsh -c qemu:///system net-destroy default 2>/dev/null || true
sudo virsh -c qemu:///system net-undefine default 2>/dev/null || true
sudo ip link set ens3 nomaster 2>/dev/null || true
sudo ip link delete virbr0 2>/dev/null || true

cat > /tmp/moat-default-net.xml <<'EOF'
<network>
  <name>default</name>
  <forward mode='nat'/>
  <bridge name='virbr0' stp='on' delay='0'/>
  <ip address='192.168.122.1' netmask='255.255.255.0'>
    <dhcp>
      <range start='192.168.122.100' end='192.168.122.254'/>
    </dhcp>
  </ip>
</network>
EOF
sudo virsh -c qemu:///system net-define /tmp/moat-default-net.xml
sudo virsh -c qemu:///system net-autostart default 2>/dev/null || true

if ! sudo virsh -c qemu:///system net-start default 2>&1; then
    echo "[SETUP] default network failed to start, defining isolated fallback"
    cat > /tmp/moat-fallback-net.xml <<'EOF'
<network>
  <name>moat</name>
  <bridge name='virbr1' stp='on' delay='0'/>
  <ip address='192.168.200.1' netmask='255.255.255.0'>
    <dhcp>
      <range start='192.168.200.100' end='192.168.200.254'/>
    </dhcp>
  </ip>
</network>
EOF
    sudo virsh -c qemu:///system net-define /tmp/moat-fallback-net.xml 2>/dev/null || true
    sudo virsh -c qemu:///system net-autostart moat 2>/dev/null || true
    sudo virsh -c qemu:///system net-start moat
    echo "FALLBACK_MOAT_NETWORK"
fi

echo "[SETUP] done"
`
